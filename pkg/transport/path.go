package transport

// ObjectPath marks a value that must travel as an object path rather than a string
type ObjectPath string

// PathOf extracts an object path from a decoded message value
func PathOf(v interface{}) (string, bool) {
	switch p := v.(type) {
	case string:
		return p, p != ""
	case ObjectPath:
		return string(p), p != ""
	default:
		return "", false
	}
}

// PathsOf extracts a list of object paths from a decoded message value
func PathsOf(v interface{}) ([]string, bool) {
	switch ps := v.(type) {
	case []string:
		return ps, true
	case []ObjectPath:
		out := make([]string, len(ps))
		for i := range ps {
			out[i] = string(ps[i])
		}

		return out, true
	case []interface{}:
		out := make([]string, 0, len(ps))
		for _, p := range ps {
			s, ok := PathOf(p)
			if !ok {
				return nil, false
			}

			out = append(out, s)
		}

		return out, true
	default:
		return nil, false
	}
}
