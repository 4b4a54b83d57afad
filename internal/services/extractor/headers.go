package extractor

import (
	"fmt"
	"strings"

	"github.com/ternarybob/plexus/internal/models"
)

// HeaderField is one entry of a HeaderTemplate. Either Value is used as-is,
// or, when Observed is set, the value is taken from the captured traffic.
type HeaderField struct {
	Name     string
	Value    string
	Observed bool
}

// Fixed returns a template field with a constant value
func Fixed(name, value string) HeaderField {
	return HeaderField{Name: name, Value: value}
}

// Observed returns a template field filled from captured traffic
func Observed(name string) HeaderField {
	return HeaderField{Name: name, Observed: true}
}

// HeaderTemplate describes the headers a site expects from a real browser.
// When Match is empty observed values come from all requests merged (later
// requests win); otherwise only from the first request whose URL contains Match.
type HeaderTemplate struct {
	Match  string
	Fields []HeaderField
}

// MergeHeaders folds the headers of every request into one map, lowercased,
// with later requests overriding earlier ones
func MergeHeaders(trace models.Trace) map[string]string {
	merged := make(map[string]string)
	for _, req := range trace {
		for k, v := range req.Headers {
			merged[strings.ToLower(k)] = v
		}
	}
	return merged
}

// ExtractSiteHeaders fills template from the captured traffic
func ExtractSiteHeaders(trace models.Trace, template HeaderTemplate) (models.Headers, error) {
	var observed map[string]string
	if template.Match != "" {
		req, err := FindRequest(trace, template.Match)
		if err != nil {
			return models.Headers{}, err
		}
		observed = MergeHeaders(models.Trace{req})
	} else {
		observed = MergeHeaders(trace)
	}

	out := make(map[string]string, len(template.Fields))
	var missing []string
	for _, field := range template.Fields {
		if !field.Observed {
			out[field.Name] = field.Value
			continue
		}
		value, ok := observed[strings.ToLower(field.Name)]
		if !ok {
			missing = append(missing, field.Name)
			continue
		}
		out[field.Name] = value
	}

	if len(missing) > 0 {
		return models.Headers{}, fmt.Errorf("%w: %s", models.ErrMissingHeader, strings.Join(missing, ", "))
	}
	return models.NewHeaders(out), nil
}
