package domain

// Metadata is an unstructured metadata container for domain entities.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	return Metadata(cloneMap(m))
}

// Object is a structured JSON object payload such as an example input or output.
type Object map[string]any

func (o Object) Clone() Object {
	if o == nil {
		return Object{}
	}
	return Object(cloneMap(o))
}

// CloneValue deep-copies JSON-shaped values (maps, slices and scalars).
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Object:
		return Object(cloneMap(t))
	case Metadata:
		return Metadata(cloneMap(t))
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = CloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}
