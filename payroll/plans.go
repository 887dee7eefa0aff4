package payroll

import "encoding/json"

// Preset plan definitions as JSON, parsed with factory.PlanFactory. They are
// built as JSON here so this package never imports the factory.

// Traditional401kJSON returns a US 401(k) with YTD caps on and a percent
// default election.
func Traditional401kJSON(id, name, annualLimit, matchPercent, defaultPercent string) string {
	return planJSON(map[string]any{
		"id":                     id,
		"name":                   name,
		"type":                   string(Plan401kTraditional),
		"enable_ytd_caps":        true,
		"annual_employee_limit":  annualLimit,
		"period_type":            "calendar_year",
		"employer_match_percent": matchPercent,
		"default_election":       map[string]any{"mode": "percent", "value": defaultPercent},
	})
}

// GroupRRSPJSON returns a Canadian group RRSP. Contribution room belongs to
// the individual, so caps are off and nothing is matched by default.
func GroupRRSPJSON(id, name, flatDefault string) string {
	return planJSON(map[string]any{
		"id":                     id,
		"name":                   name,
		"type":                   string(PlanRRSPGroup),
		"enable_ytd_caps":        false,
		"annual_employee_limit":  "0",
		"employer_match_percent": "0",
		"default_election":       map[string]any{"mode": "flat", "value": flatDefault},
	})
}

func planJSON(pj map[string]any) string {
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}
