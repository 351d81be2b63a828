// Package chanuri parses channel URIs of the form
// aeron:(udp|ipc)?key1=value1|key2=value2|...
//
// This is deliberately not a formal grammar: it's a prefix check plus two splits, the same level of
// effort the teacher spends on its own plain key=value config knobs
// rather than a parser-combinator library.
package chanuri

import (
	"fmt"
	"strconv"
	"strings"
)

// Media identifies the transport a channel URI addresses.
type Media string

const (
	MediaUDP Media = "udp"
	MediaIPC Media = "ipc"
)

// Recognized parameter keys.
const (
	KeyEndpoint    = "endpoint"
	KeyInterface   = "interface"
	KeyControl     = "control"
	KeyControlMode = "control-mode"
	KeyMTU         = "mtu"
	KeyTermLength  = "term-length"
	KeyInitTermID  = "init-term-id"
	KeyTermID      = "term-id"
	KeyTermOffset  = "term-offset"
	KeyTTL         = "ttl"
	KeyReliable    = "reliable"
	KeySessionID   = "session-id"
	KeyTags        = "tags"
	KeyAlias       = "alias"
)

// ControlMode values for multi-destination-cast channels.
const (
	ControlModeManual  = "manual"
	ControlModeDynamic = "dynamic"
)

// URI is a parsed channel URI: a media type plus its key=value
// parameters. The original string is retained since it is what gets
// echoed back in client responses and log lines.
type URI struct {
	Raw    string
	Media  Media
	Params map[string]string
}

// Parse splits s into its media and parameters. It does not validate
// parameter values beyond basic syntax; callers that care about a
// specific parameter's semantics (mtu must be positive, term-length must
// be a power of two, endpoint must resolve) validate it themselves.
func Parse(s string) (URI, error) {
	const prefix = "aeron:"
	if !strings.HasPrefix(s, prefix) {
		return URI{}, fmt.Errorf("chanuri: missing %q prefix in %q", prefix, s)
	}
	rest := s[len(prefix):]

	media, paramStr, hasParams := strings.Cut(rest, "?")
	if media != string(MediaUDP) && media != string(MediaIPC) {
		return URI{}, fmt.Errorf("chanuri: unknown media %q in %q", media, s)
	}

	params := make(map[string]string)
	if hasParams && paramStr != "" {
		for _, kv := range strings.Split(paramStr, "|") {
			if kv == "" {
				continue
			}
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return URI{}, fmt.Errorf("chanuri: malformed parameter %q in %q", kv, s)
			}
			params[k] = v
		}
	}

	return URI{Raw: s, Media: Media(media), Params: params}, nil
}

// Get returns a parameter's value, or ("", false) if it was not present.
func (u URI) Get(key string) (string, bool) {
	v, ok := u.Params[key]
	return v, ok
}

// GetDefault returns a parameter's value, or def if it was not present.
func (u URI) GetDefault(key, def string) string {
	if v, ok := u.Params[key]; ok {
		return v
	}
	return def
}

// GetInt32 returns a parameter parsed as an int32, or def if it was not
// present. A present-but-unparseable value is an error.
func (u URI) GetInt32(key string, def int32) (int32, error) {
	v, ok := u.Params[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("chanuri: parameter %q=%q is not an integer: %w", key, v, err)
	}
	return int32(n), nil
}

// GetBool returns a parameter parsed as a bool, or def if it was not
// present.
func (u URI) GetBool(key string, def bool) (bool, error) {
	v, ok := u.Params[key]
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("chanuri: parameter %q=%q is not a bool: %w", key, v, err)
	}
	return b, nil
}

// IsMulticast reports whether the endpoint parameter names a multicast
// address, used to choose between unicast-max and multicast-min flow
// control.
func (u URI) IsMulticast() bool {
	endpoint, ok := u.Get(KeyEndpoint)
	if !ok {
		return false
	}
	host, _, ok := strings.Cut(endpoint, ":")
	if !ok {
		host = endpoint
	}
	if host == "" {
		return false
	}
	octet, _, _ := strings.Cut(host, ".")
	n, err := strconv.Atoi(octet)
	if err != nil {
		return false
	}
	return n >= 224 && n <= 239
}

// CanonicalForm returns a string suitable for dedup-by-channel comparison
// when creating publications/subscriptions: same media, same params,
// independent of insertion order.
func (u URI) CanonicalForm() string {
	keys := make([]string, 0, len(u.Params))
	for k := range u.Params {
		keys = append(keys, k)
	}
	// simple insertion sort is plenty for the handful of recognized keys
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	var b strings.Builder
	b.WriteString("aeron:")
	b.WriteString(string(u.Media))
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('|')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(u.Params[k])
	}
	return b.String()
}
