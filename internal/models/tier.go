package models

import "fmt"

// Tier is the vehicle capability class. Tiers are totally ordered:
// economy < comfort < business.
type Tier int

const (
	TierEconomy Tier = iota + 1
	TierComfort
	TierBusiness
)

var tierNames = map[Tier]string{
	TierEconomy:  "economy",
	TierComfort:  "comfort",
	TierBusiness: "business",
}

func (t Tier) String() string {
	if s, ok := tierNames[t]; ok {
		return s
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

func (t Tier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	p, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = p
	return nil
}

func ParseTier(s string) (Tier, error) {
	for t, name := range tierNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("invalid tier %q", s)
}

// Escalate returns the requested tier plus every strictly higher tier, in
// ascending order. A search that misses at the requested tier falls through
// to more capable vehicles, never cheaper ones.
func Escalate(requested Tier) []Tier {
	var out []Tier
	for t := requested; t <= TierBusiness; t++ {
		out = append(out, t)
	}
	return out
}
