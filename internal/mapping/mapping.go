package mapping

import "strings"

// Mapping translates an autoscaling group name into the silence identity
// used for that group's hosts in Bosun.
type Mapping struct {
	// Search is matched as a substring of the group name.
	Search string `json:"search" mapstructure:"search"`
	// TagName tags metrics and silences for the matched group.
	TagName string `json:"tag_name" mapstructure:"tag_name"`
	// HostPrefix is prepended to the instance id to form the silence host.
	HostPrefix string `json:"host_prefix" mapstructure:"host_prefix"`
}

// Matches reports whether the mapping applies to the given group name.
func (m *Mapping) Matches(groupName string) bool {
	return strings.Contains(groupName, m.Search)
}

// Mappings is an ordered rule list. Rules are evaluated in declared order
// and the first match wins.
type Mappings struct {
	Items []Mapping `json:"items" mapstructure:"items"`
}

// Map returns the first mapping matching the group name, or nil when the
// group is not under management. A nil result is not an error.
func (ms *Mappings) Map(groupName string) *Mapping {
	for i := range ms.Items {
		if ms.Items[i].Matches(groupName) {
			return &ms.Items[i]
		}
	}
	return nil
}
