package domain

// RecordSet is everything needed to synthesize one engine configuration.
type RecordSet struct {
	Networks []NetworkConfig
	Monitors []MonitorConfig
	Triggers []TriggerConfig
}

// NetworkSlugs returns the slugs of all networks in load order.
func (s RecordSet) NetworkSlugs() []string {
	slugs := make([]string, 0, len(s.Networks))
	for _, n := range s.Networks {
		slugs = append(slugs, n.Slug)
	}
	return slugs
}
