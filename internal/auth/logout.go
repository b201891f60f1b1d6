package auth

import (
	"fmt"

	"github.com/12jason0/DoNa-sub000/internal/message"
)

// LogoutPage tells the page how to tear down its own session.
type LogoutPage struct {
	// EndpointURL is the server-side session termination endpoint (POST).
	EndpointURL string
	// ReturnPath is loaded once the page state is gone, e.g. "/?logout=1".
	ReturnPath string
}

// Script returns the injection that ends the page-side session. It calls the
// logout endpoint with the session cookies still attached, and once that
// settles (or after 1.5s) clears web storage, expires every cookie the page
// can see under each host, parent-domain and path variant, and replaces the
// current entry with ReturnPath.
func (p LogoutPage) Script() string {
	returnPath := p.ReturnPath
	if returnPath == "" {
		returnPath = "/?logout=1"
	}
	return fmt.Sprintf(logoutScript, message.ScriptString(p.EndpointURL), message.ScriptString(returnPath))
}

const logoutScript = `(function () {
  var endpoint = %s;
  var returnPath = %s;
  var done = false;
  function clearCookies() {
    var host = window.location.hostname;
    var labels = host.split(".");
    var domains = ["", host, "." + host];
    for (var i = 1; i < labels.length - 1; i++) {
      domains.push("." + labels.slice(i).join("."));
    }
    var paths = ["/"];
    var segs = window.location.pathname.split("/");
    var acc = "";
    for (var j = 1; j < segs.length; j++) {
      if (!segs[j]) continue;
      acc += "/" + segs[j];
      paths.push(acc);
    }
    var cookies = document.cookie ? document.cookie.split(";") : [];
    for (var c = 0; c < cookies.length; c++) {
      var name = cookies[c].split("=")[0].trim();
      if (!name) continue;
      for (var d = 0; d < domains.length; d++) {
        for (var p = 0; p < paths.length; p++) {
          document.cookie = name + "=; expires=Thu, 01 Jan 1970 00:00:00 GMT; max-age=0; path=" + paths[p] +
            (domains[d] ? "; domain=" + domains[d] : "");
        }
      }
    }
  }
  function finish() {
    if (done) return;
    done = true;
    try { window.localStorage.clear(); } catch (e) {}
    try { window.sessionStorage.clear(); } catch (e) {}
    try { clearCookies(); } catch (e) {}
    try { window.location.replace(returnPath); } catch (e) {}
  }
  if (!endpoint) {
    finish();
    return;
  }
  try {
    fetch(endpoint, { method: "POST", credentials: "include", keepalive: true }).then(finish, finish);
  } catch (e) {
    finish();
    return;
  }
  setTimeout(finish, 1500);
})();`
