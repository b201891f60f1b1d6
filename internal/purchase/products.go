package purchase

import (
	"fmt"
	"sort"
	"strings"
)

// ProductMap translates between web plan ids and SDK product ids.
type ProductMap struct {
	toProduct map[string]string
	toPlan    map[string]string
}

// NewProductMap fails when two plans share a product id, since the reverse
// lookup would be ambiguous.
func NewProductMap(plans map[string]string) (*ProductMap, error) {
	m := &ProductMap{
		toProduct: make(map[string]string, len(plans)),
		toPlan:    make(map[string]string, len(plans)),
	}
	for plan, product := range plans {
		plan, product = strings.TrimSpace(plan), strings.TrimSpace(product)
		if plan == "" || product == "" {
			return nil, fmt.Errorf("product map: empty entry %q=%q", plan, product)
		}
		if other, dup := m.toPlan[product]; dup {
			return nil, fmt.Errorf("product map: %s used by both %s and %s", product, other, plan)
		}
		m.toProduct[plan] = product
		m.toPlan[product] = plan
	}
	return m, nil
}

// ParseProductMap reads "plan=product,plan=product".
func ParseProductMap(s string) (*ProductMap, error) {
	plans := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		plan, product, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("product map: bad entry %q", pair)
		}
		plans[strings.TrimSpace(plan)] = strings.TrimSpace(product)
	}
	return NewProductMap(plans)
}

// ProductID returns the SDK product for a plan. Unknown plans map to
// themselves so a catalog keyed by plan id still matches.
func (m *ProductMap) ProductID(planID string) string {
	if p, ok := m.toProduct[planID]; ok {
		return p
	}
	return planID
}

func (m *ProductMap) PlanID(productID string) (string, bool) {
	p, ok := m.toPlan[productID]
	return p, ok
}

// Plans returns the plan ids in sorted order.
func (m *ProductMap) Plans() []string {
	out := make([]string, 0, len(m.toProduct))
	for p := range m.toProduct {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
