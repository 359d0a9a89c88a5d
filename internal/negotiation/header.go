package negotiation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dunglas/httpsfv"
)

// ParseCartClientHeader extracts the caller's name and version.
// Format: version="v1.2.0", name="cartctl" (RFC 8941 Dictionary).
//
// Examples:
//   - version="v1.2.0"                → {Version: v1.2.0}
//   - name=cartctl, version="1.3.0";x → {Name: cartctl, Version: 1.3.0} (params ignored)
//
// Returns error if header is empty, malformed, or missing the version key.
func ParseCartClientHeader(header string) (ClientInfo, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return ClientInfo{}, errors.New("empty Cart-Client header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return ClientInfo{}, fmt.Errorf("invalid Cart-Client header: %w", err)
	}

	version, err := stringMember(dict, "version")
	if err != nil {
		return ClientInfo{}, err
	}
	if version == "" {
		return ClientInfo{}, errors.New("version key not found in Cart-Client header")
	}

	name, err := stringMember(dict, "name")
	if err != nil {
		return ClientInfo{}, err
	}
	return ClientInfo{Name: name, Version: version}, nil
}

// stringMember returns a string or token member, or "" when absent.
func stringMember(dict *httpsfv.Dictionary, key string) (string, error) {
	member, ok := dict.Get(key)
	if !ok {
		return "", nil
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return "", fmt.Errorf("%s value must be an item", key)
	}
	switch v := item.Value.(type) {
	case string:
		return v, nil
	case httpsfv.Token:
		return string(v), nil
	default:
		return "", fmt.Errorf("%s value must be a string", key)
	}
}

// FormatCartClientHeader builds the Cart-Client value a client sends.
func FormatCartClientHeader(info ClientInfo) (string, error) {
	dict := httpsfv.NewDictionary()
	dict.Add("version", httpsfv.NewItem(info.Version))
	if info.Name != "" {
		dict.Add("name", httpsfv.NewItem(info.Name))
	}
	return httpsfv.Marshal(dict)
}

// FormatCartState builds the Cart-State value.
// Format: revision=12, count=3, pending=("item:abc" "coupons"), degraded=?0
func FormatCartState(s CartState) (string, error) {
	pending := httpsfv.InnerList{Items: make([]httpsfv.Item, 0, len(s.Pending)), Params: httpsfv.NewParams()}
	for _, p := range s.Pending {
		pending.Items = append(pending.Items, httpsfv.NewItem(p))
	}

	dict := httpsfv.NewDictionary()
	dict.Add("revision", httpsfv.NewItem(int64(s.Revision)))
	dict.Add("count", httpsfv.NewItem(int64(s.Count)))
	dict.Add("pending", pending)
	dict.Add("degraded", httpsfv.NewItem(s.Degraded))
	return httpsfv.Marshal(dict)
}

// ParseCartState reads a Cart-State value. Unknown keys are ignored.
func ParseCartState(header string) (CartState, error) {
	var s CartState
	header = strings.TrimSpace(header)
	if header == "" {
		return s, errors.New("empty Cart-State header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return s, fmt.Errorf("invalid Cart-State header: %w", err)
	}

	for _, key := range dict.Names() {
		member, _ := dict.Get(key)
		switch key {
		case "revision", "count":
			item, ok := member.(httpsfv.Item)
			n, isInt := item.Value.(int64)
			if !ok || !isInt || n < 0 {
				return s, fmt.Errorf("%s must be a non-negative integer", key)
			}
			if key == "revision" {
				s.Revision = uint64(n)
			} else {
				s.Count = int(n)
			}
		case "pending":
			list, ok := member.(httpsfv.InnerList)
			if !ok {
				return s, errors.New("pending must be an inner list")
			}
			for _, item := range list.Items {
				p, ok := item.Value.(string)
				if !ok {
					return s, errors.New("pending entries must be strings")
				}
				s.Pending = append(s.Pending, p)
			}
		case "degraded":
			item, ok := member.(httpsfv.Item)
			b, isBool := item.Value.(bool)
			if !ok || !isBool {
				return s, errors.New("degraded must be a boolean")
			}
			s.Degraded = b
		}
	}
	return s, nil
}
