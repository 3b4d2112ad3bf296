// Package trn parses, validates, and pattern-matches Tool Resource Names.
//
// A TRN is a fixed nine-component colon-separated identifier with an optional
// content-addressing hash suffix:
//
//	trn:platform:scope:resource_type:type:subtype:instance_id:version:tag[@alg:hex]
//
// Parsing is pure and total: every operation either returns a value or a
// typed error naming the offending component. There is no I/O.
package trn

import (
	"fmt"
	"regexp"
	"strings"

	bushex "github.com/R3E-Network/eventbus/infrastructure/hex"
)

const (
	prefix         = "trn"
	minLength      = 10
	maxLength      = 256
	fixedComponent = 9
)

// Component length limits, ported from the originating validator.
const (
	platformMaxLength     = 32
	scopeMaxLength        = 32
	resourceTypeMaxLength = 16
	typeMaxLength         = 32
	subtypeMaxLength      = 32
	instanceIDMaxLength   = 64
	versionMaxLength      = 32
	tagMaxLength          = 16
)

var supportedPlatforms = map[string]struct{}{
	"user":       {},
	"org":        {},
	"aiplatform": {},
}

var reservedWords = map[string]struct{}{
	"__internal__": {},
	"__system__":   {},
	"__admin__":    {},
	"__test__":     {},
	"system":       {},
	"internal":     {},
	"admin":        {},
	"root":         {},
	"super":        {},
	"null":         {},
	"undefined":    {},
	"reserved":     {},
}

// hashAlgorithmHexLength maps a supported hash algorithm to its exact hex digest length.
var hashAlgorithmHexLength = map[string]int{
	"md5":    32,
	"sha1":   40,
	"sha256": 64,
	"sha512": 128,
	"crc32":  8,
}

var (
	platformPattern     = regexp.MustCompile(`^[a-z][a-z0-9-]{1,31}$`)
	scopePattern        = regexp.MustCompile(`^([a-z0-9][a-z0-9-]{0,31})?$`)
	resourceTypePattern = regexp.MustCompile(`^[a-z][a-z0-9-]{1,15}$`)
	typePattern         = regexp.MustCompile(`^[a-z][a-z0-9-]{1,31}$`)
	subtypePattern      = regexp.MustCompile(`^([a-z][a-z0-9-]{1,31})?$`)
	instanceIDPattern   = regexp.MustCompile(`^[a-z][a-zA-Z0-9_/-]{0,63}$`)
	versionPattern      = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{0,31}$`)
	tagPattern          = regexp.MustCompile(`^([a-z0-9][a-z0-9-]{0,15})?$`)
	hashFormatPattern   = regexp.MustCompile(`^(md5|sha1|sha256|sha512|crc32):[a-f0-9]+$`)
)

// TRN is a parsed, validated Tool Resource Name.
type TRN struct {
	Platform     string
	Scope        string
	ResourceType string
	Type         string
	Subtype      string
	InstanceID   string
	Version      string
	Tag          string
	Hash         string // empty when no @alg:hex suffix was present
}

// isReservedWord reports whether word is reserved, including any word that
// begins or ends with a double underscore.
func isReservedWord(word string) bool {
	if _, ok := reservedWords[word]; ok {
		return true
	}
	return strings.HasPrefix(word, "__") || strings.HasSuffix(word, "__")
}

// HashAlgorithmHexLength returns the expected hex digest length for a
// supported hash algorithm, and false if the algorithm is unknown.
func HashAlgorithmHexLength(algorithm string) (int, bool) {
	n, ok := hashAlgorithmHexLength[algorithm]
	return n, ok
}

// validHashDigest decodes digest as hex and reports whether it holds exactly
// wantHexLen/2 bytes, cross-checking the hashAlgorithmHexLength table against
// the digest's actual decoded byte length rather than just its character count.
func validHashDigest(digest string, wantHexLen int) bool {
	decoded, err := bushex.DecodeString(digest)
	return err == nil && len(decoded)*2 == wantHexLen
}

// Parse validates and decomposes a TRN string. Parse itself does not
// memoize; a *Cache (see cache.go) memoizes Parse outcomes for callers that
// parse the same strings repeatedly.
func Parse(s string) (TRN, error) {
	if len(s) < minLength || len(s) > maxLength {
		return TRN{}, &ParseError{Component: "trn", Reason: fmt.Sprintf("length %d outside [%d, %d]", len(s), minLength, maxLength)}
	}

	body := s
	hash := ""
	if idx := strings.IndexByte(s, '@'); idx >= 0 {
		body = s[:idx]
		hash = s[idx+1:]
	}

	if !strings.HasPrefix(body, prefix+":") {
		return TRN{}, &ParseError{Component: "trn", Reason: "missing trn: prefix"}
	}

	parts := strings.Split(body, ":")
	// parts[0] == "trn"; 8 colons separate it and the 8 components
	// platform..tag, giving 9 split parts in all.
	if len(parts) != fixedComponent {
		return TRN{}, &ParseError{Component: "trn", Reason: fmt.Sprintf("expected %d components, got %d", fixedComponent, len(parts))}
	}

	t := TRN{
		Platform:     parts[1],
		Scope:        parts[2],
		ResourceType: parts[3],
		Type:         parts[4],
		Subtype:      parts[5],
		InstanceID:   parts[6],
		Version:      parts[7],
		Tag:          parts[8],
	}

	if err := validateComponents(t); err != nil {
		return TRN{}, err
	}

	if hash != "" {
		if !hashFormatPattern.MatchString(hash) {
			return TRN{}, &ParseError{Component: "hash", Reason: "malformed hash suffix"}
		}
		alg, digest, _ := strings.Cut(hash, ":")
		wantLen, ok := HashAlgorithmHexLength(alg)
		if !ok {
			return TRN{}, &ParseError{Component: "hash", Reason: "unsupported hash algorithm: " + alg}
		}
		if len(digest) != wantLen {
			return TRN{}, &ParseError{Component: "hash", Reason: fmt.Sprintf("%s hex length %d, want %d", alg, len(digest), wantLen)}
		}
		if !validHashDigest(digest, wantLen) {
			return TRN{}, &ParseError{Component: "hash", Reason: fmt.Sprintf("%s digest does not decode to %d bytes", alg, wantLen/2)}
		}
		t.Hash = hash
	}

	return t, nil
}

func validateComponents(t TRN) error {
	checks := []struct {
		name    string
		value   string
		pattern *regexp.Regexp
		maxLen  int
		reserve bool
	}{
		{"platform", t.Platform, platformPattern, platformMaxLength, true},
		{"scope", t.Scope, scopePattern, scopeMaxLength, true},
		{"resource_type", t.ResourceType, resourceTypePattern, resourceTypeMaxLength, true},
		{"type", t.Type, typePattern, typeMaxLength, true},
		{"subtype", t.Subtype, subtypePattern, subtypeMaxLength, true},
		{"instance_id", t.InstanceID, instanceIDPattern, instanceIDMaxLength, true},
		{"version", t.Version, versionPattern, versionMaxLength, true},
		{"tag", t.Tag, tagPattern, tagMaxLength, true},
	}

	for _, c := range checks {
		if len(c.value) > c.maxLen {
			return &ParseError{Component: c.name, Reason: fmt.Sprintf("length %d exceeds max %d", len(c.value), c.maxLen)}
		}
		if !c.pattern.MatchString(c.value) {
			return &ParseError{Component: c.name, Reason: fmt.Sprintf("value %q does not match allowed pattern", c.value)}
		}
		if c.reserve && c.value != "" && isReservedWord(c.value) {
			return &ParseError{Component: c.name, Reason: fmt.Sprintf("value %q is a reserved word", c.value)}
		}
	}

	if _, ok := supportedPlatforms[t.Platform]; !ok {
		return &ParseError{Component: "platform", Reason: fmt.Sprintf("platform %q is not in the supported set", t.Platform)}
	}

	return nil
}

// Components are the nine positional fields used by Build, in TRN order.
type Components struct {
	Platform     string
	Scope        string
	ResourceType string
	Type         string
	Subtype      string
	InstanceID   string
	Version      string
	Tag          string
	Hash         string // optional "alg:hex", without the leading @
}

// Build assembles and validates a TRN from discrete components, returning the
// canonical string form.
func Build(c Components) (string, error) {
	t := TRN{
		Platform:     c.Platform,
		Scope:        c.Scope,
		ResourceType: c.ResourceType,
		Type:         c.Type,
		Subtype:      c.Subtype,
		InstanceID:   c.InstanceID,
		Version:      c.Version,
		Tag:          c.Tag,
	}
	if err := validateComponents(t); err != nil {
		return "", &BuildError{Component: err.(*ParseError).Component, Reason: err.(*ParseError).Reason}
	}

	s := t.String()
	if c.Hash != "" {
		if !hashFormatPattern.MatchString(c.Hash) {
			return "", &BuildError{Component: "hash", Reason: "malformed hash suffix"}
		}
		alg, digest, _ := strings.Cut(c.Hash, ":")
		wantLen, ok := HashAlgorithmHexLength(alg)
		if !ok {
			return "", &BuildError{Component: "hash", Reason: "unsupported hash algorithm: " + alg}
		}
		if len(digest) != wantLen {
			return "", &BuildError{Component: "hash", Reason: fmt.Sprintf("%s hex length %d, want %d", alg, len(digest), wantLen)}
		}
		if !validHashDigest(digest, wantLen) {
			return "", &BuildError{Component: "hash", Reason: fmt.Sprintf("%s digest does not decode to %d bytes", alg, wantLen/2)}
		}
		s += "@" + c.Hash
	}

	if len(s) < minLength || len(s) > maxLength {
		return "", &BuildError{Component: "trn", Reason: fmt.Sprintf("length %d outside [%d, %d]", len(s), minLength, maxLength)}
	}

	return s, nil
}

// String renders the TRN in canonical form, including the hash suffix if present.
func (t TRN) String() string {
	s := strings.Join([]string{
		prefix, t.Platform, t.Scope, t.ResourceType, t.Type, t.Subtype, t.InstanceID, t.Version, t.Tag,
	}, ":")
	if t.Hash != "" {
		s += "@" + t.Hash
	}
	return s
}

// Compatible reports whether a and b identify the same resource regardless of
// version or tag: platform, scope, resource_type, and instance_id must match.
func Compatible(a, b TRN) bool {
	return a.Platform == b.Platform &&
		a.Scope == b.Scope &&
		a.ResourceType == b.ResourceType &&
		a.InstanceID == b.InstanceID
}
