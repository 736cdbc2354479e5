package slug

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/lysyi3m/family-comb/app/listing"
)

const (
	maxTitleLength   = 60
	hashLength       = 6
	randomLength     = 4
	maxRandomRetries = 8
)

var ErrExhausted = errors.New("could not find a free slug")

// Store answers slug questions against persisted events.
type Store interface {
	SlugFor(ctx context.Context, source, externalID string) (string, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
}

// Assigner hands out slugs for one ingestion batch. It remembers every slug
// handed out so far because storage is not updated until records are upserted.
type Assigner struct {
	store  Store
	random func() string

	mu   sync.Mutex
	used map[string]string
}

func NewAssigner(store Store) *Assigner {
	return &Assigner{
		store:  store,
		random: randomSuffix,
		used:   make(map[string]string),
	}
}

// Assign returns the slug for ev. An identity that already has a slug keeps it.
func (a *Assigner) Assign(ctx context.Context, ev *listing.Event) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	identity := ev.Source + "\x00" + ev.ExternalID

	existing, err := a.store.SlugFor(ctx, ev.Source, ev.ExternalID)
	if err != nil {
		return "", fmt.Errorf("failed to look up existing slug: %w", err)
	}
	if existing != "" {
		a.used[existing] = identity
		return existing, nil
	}

	base := Base(ev.Title, ev.StartAt, ev.City)
	candidates := []string{base, base + "-" + IdentityHash(ev.Source, ev.ExternalID, ev.StartAt)}

	for _, candidate := range candidates {
		free, err := a.available(ctx, candidate, identity)
		if err != nil {
			return "", err
		}
		if free {
			a.used[candidate] = identity
			return candidate, nil
		}
	}

	hashed := candidates[1]
	for range maxRandomRetries {
		candidate := hashed + "-" + a.random()
		free, err := a.available(ctx, candidate, identity)
		if err != nil {
			return "", err
		}
		if free {
			a.used[candidate] = identity
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w for %q", ErrExhausted, base)
}

func (a *Assigner) available(ctx context.Context, candidate, identity string) (bool, error) {
	if owner, ok := a.used[candidate]; ok {
		return owner == identity, nil
	}
	exists, err := a.store.SlugExists(ctx, candidate)
	if err != nil {
		return false, fmt.Errorf("failed to check slug %q: %w", candidate, err)
	}
	return !exists, nil
}

// Base builds "title-yyyy-mm-dd-city" in lower-case ASCII.
func Base(title string, start time.Time, city string) string {
	t := Slugify(title)
	if len(t) > maxTitleLength {
		t = strings.TrimRight(t[:maxTitleLength], "-")
	}
	if t == "" {
		t = "event"
	}
	parts := []string{t, start.UTC().Format("2006-01-02")}
	if c := Slugify(city); c != "" {
		parts = append(parts, c)
	}
	return strings.Join(parts, "-")
}

// IdentityHash is a short deterministic digest of an identity and start time.
func IdentityHash(source, externalID string, start time.Time) string {
	sum := sha256.Sum256([]byte(source + "|" + externalID + "|" + start.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(sum[:])[:hashLength]
}

// Slugify folds diacritics, lower-cases and joins alphanumeric runs with "-".
func Slugify(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case r == '&':
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
			}
			b.WriteString("and-")
			dash = true
		default:
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func randomSuffix() string {
	buf := make([]byte, randomLength/2)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%04x", time.Now().UnixNano()&0xffff)
	}
	return hex.EncodeToString(buf)
}
