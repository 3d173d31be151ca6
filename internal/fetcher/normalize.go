package fetcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"eures-rank/internal/domain"
)

type searchResponse struct {
	NumberRecords int               `json:"numberRecords"`
	JVs           []json.RawMessage `json:"jvs"`
}

type rawVacancy struct {
	ID          json.RawMessage `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	LocationMap json.RawMessage `json:"locationMap"`
	Employer    json.RawMessage `json:"employer"`
}

// metadataFields are copied from the raw vacancy into JobRecord.Metadata.
var metadataFields = []string{
	"creationDate",
	"lastModificationDate",
	"numberOfPosts",
	"euresFlag",
	"jobCategoriesCodes",
	"positionScheduleCodes",
	"positionOfferingCode",
	"availableLanguages",
	"score",
}

// normalize maps one entry of the "jvs" array onto a JobRecord. details may
// be nil.
func normalize(raw, details json.RawMessage) (domain.JobRecord, error) {
	var v rawVacancy
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.JobRecord{}, err
	}
	id := scalar(v.ID)
	if id == "" {
		return domain.JobRecord{}, errors.New("vacancy without id")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.JobRecord{}, err
	}
	meta := make(map[string]string, len(metadataFields)+1)
	for _, k := range metadataFields {
		if s := scalar(fields[k]); s != "" {
			meta[k] = s
		}
	}
	if name := employerName(v.Employer); name != "" {
		meta["employer"] = name
	}

	if details == nil {
		details = json.RawMessage("null")
	}
	snapshot, err := json.Marshal(struct {
		Summary json.RawMessage `json:"summary"`
		Details json.RawMessage `json:"details"`
	}{raw, details})
	if err != nil {
		return domain.JobRecord{}, fmt.Errorf("snapshot: %w", err)
	}

	return domain.JobRecord{
		ID:          id,
		Title:       strings.TrimSpace(v.Title),
		Location:    location(v.LocationMap),
		Description: v.Description,
		Metadata:    meta,
		Raw:         snapshot,
	}, nil
}

// scalar renders a JSON value as a plain string: strings unquoted, null as
// empty, anything else compacted.
func scalar(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || string(v) == "null" {
		return ""
	}
	var s string
	if v[0] == '"' && json.Unmarshal(v, &s) == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(v)
	}
	return buf.String()
}

// location renders {"be": ["BE1"], "nl": []} as "BE (BE1), NL". Shapes
// other than a map of code lists fall back to the compacted JSON.
func location(raw json.RawMessage) string {
	var m map[string][]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return scalar(raw)
	}
	countries := make([]string, 0, len(m))
	for c := range m {
		countries = append(countries, c)
	}
	sort.Strings(countries)
	parts := make([]string, 0, len(countries))
	for _, c := range countries {
		p := strings.ToUpper(c)
		if regions := m[c]; len(regions) > 0 {
			p += " (" + strings.Join(regions, ", ") + ")"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, ", ")
}

func employerName(raw json.RawMessage) string {
	var e struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &e); err == nil && e.Name != "" {
		return e.Name
	}
	return scalar(raw)
}
