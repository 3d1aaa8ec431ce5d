package stripe

import (
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Form is an ordered list of key/value pairs. Keys may repeat and their order
// is preserved when encoded, so the same Form always yields the same bytes.
type Form struct {
	pairs []formPair
}

type formPair struct {
	key   string
	value string
}

// Add appends a key/value pair.
func (f *Form) Add(key, value string) {
	f.pairs = append(f.pairs, formPair{key: key, value: value})
}

// Set replaces every value for key with a single value, keeping the position
// of the first occurrence. A missing key is appended.
func (f *Form) Set(key, value string) {
	out := f.pairs[:0:0]
	replaced := false
	for _, p := range f.pairs {
		if p.key != key {
			out = append(out, p)
			continue
		}
		if !replaced {
			out = append(out, formPair{key: key, value: value})
			replaced = true
		}
	}
	if !replaced {
		out = append(out, formPair{key: key, value: value})
	}
	f.pairs = out
}

// Get returns the first value for key.
func (f Form) Get(key string) (string, bool) {
	for _, p := range f.pairs {
		if p.key == key {
			return p.value, true
		}
	}
	return "", false
}

// Len returns the number of pairs.
func (f Form) Len() int {
	return len(f.pairs)
}

// Clone returns an independent copy.
func (f Form) Clone() Form {
	if f.pairs == nil {
		return Form{}
	}
	pairs := make([]formPair, len(f.pairs))
	copy(pairs, f.pairs)
	return Form{pairs: pairs}
}

// Encode returns the application/x-www-form-urlencoded representation, in
// insertion order. Brackets in keys are left readable.
func (f Form) Encode() string {
	var b strings.Builder
	for i, p := range f.pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escapeKey(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

func escapeKey(key string) string {
	escaped := url.QueryEscape(key)
	escaped = strings.ReplaceAll(escaped, "%5B", "[")
	return strings.ReplaceAll(escaped, "%5D", "]")
}

// Params is a nested parameter set encoded with bracket notation.
//
// Example:
//
//	stripe.Params{
//	    "amount":   2000,
//	    "currency": "gbp",
//	    "metadata": stripe.Params{"order_id": "6735"},
//	    "expand":   []string{"customer"},
//	}
//
// encodes to
//
//	amount=2000&currency=gbp&expand[0]=customer&metadata[order_id]=6735
//
// Map keys are sorted so the encoding is stable.
type Params map[string]any

// Form encodes the parameters into a Form.
func (p Params) Form() (Form, error) {
	var f Form
	if err := encodeValue(&f, "", map[string]any(p)); err != nil {
		return Form{}, err
	}
	return f, nil
}

func encodeValue(f *Form, prefix string, v any) error {
	switch val := v.(type) {
	case nil:
		return nil
	case Params:
		return encodeMap(f, prefix, val)
	case map[string]any:
		return encodeMap(f, prefix, val)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return encodeMap(f, prefix, m)
	case []Params:
		for i, item := range val {
			if err := encodeValue(f, indexKey(prefix, i), item); err != nil {
				return err
			}
		}
	case []any:
		for i, item := range val {
			if err := encodeValue(f, indexKey(prefix, i), item); err != nil {
				return err
			}
		}
	case []string:
		for i, item := range val {
			f.Add(indexKey(prefix, i), item)
		}
	case string:
		f.Add(prefix, val)
	case bool:
		f.Add(prefix, strconv.FormatBool(val))
	case time.Time:
		f.Add(prefix, strconv.FormatInt(val.Unix(), 10))
	case fmt.Stringer:
		f.Add(prefix, val.String())
	default:
		return encodeScalar(f, prefix, v)
	}
	return nil
}

// encodeScalar handles every numeric kind, including named types.
func encodeScalar(f *Form, prefix string, v any) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f.Add(prefix, strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f.Add(prefix, strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32:
		f.Add(prefix, strconv.FormatFloat(rv.Float(), 'f', -1, 32))
	case reflect.Float64:
		f.Add(prefix, strconv.FormatFloat(rv.Float(), 'f', -1, 64))
	case reflect.Bool:
		f.Add(prefix, strconv.FormatBool(rv.Bool()))
	case reflect.String:
		f.Add(prefix, rv.String())
	default:
		return fmt.Errorf("cannot encode parameter %q of type %T", prefix, v)
	}
	return nil
}

func encodeMap(f *Form, prefix string, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "[" + k + "]"
		}
		if err := encodeValue(f, key, m[k]); err != nil {
			return err
		}
	}
	return nil
}

func indexKey(prefix string, i int) string {
	return prefix + "[" + strconv.Itoa(i) + "]"
}
