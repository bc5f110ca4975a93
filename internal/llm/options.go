package llm

// Options carries per-request sampling parameters. Nil fields are left to
// whichever layer sits underneath (client defaults, then the backend itself).
type Options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Merge returns o with every field set in override replacing o's value.
// The merge is shallow: a non-nil Stop slice replaces the whole list.
func (o Options) Merge(override Options) Options {
	out := o
	if override.Temperature != nil {
		out.Temperature = override.Temperature
	}
	if override.TopP != nil {
		out.TopP = override.TopP
	}
	if override.TopK != nil {
		out.TopK = override.TopK
	}
	if override.NumPredict != nil {
		out.NumPredict = override.NumPredict
	}
	if override.Stop != nil {
		out.Stop = override.Stop
	}
	return out
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
