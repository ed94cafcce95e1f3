package link

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/smallsea/corncob/internal/utils"
)

// InitialSnapshot marks the beginning of a chain. It stands in for a link id,
// a prev id and a prereq commit, depending on position.
const InitialSnapshot = "initial-snapshot"

// tokenBytes is the size of link and bundle ids (64-bit opaque hex tokens).
const tokenBytes = 8

var ErrMalformed = errors.New("malformed link record")

// Branch is one published (name, head commit) pair.
type Branch struct {
	Name string
	Head string
}

// Prereq names the commit a bundle needs present for one branch. The commit
// may be InitialSnapshot for a full-history bundle.
type Prereq struct {
	Branch string
	Commit string
}

// BundleRef names one bundle delivered by a link, with its prereqs in
// published order.
type BundleRef struct {
	ID      string
	Prereqs []Prereq
}

// Link is the immutable record published per push. Supplement carries the
// free-form extension mapping; it is preserved byte-structure intact through
// a parse/marshal round trip and never interpreted.
type Link struct {
	ID         string
	PrevID     string
	Branches   []Branch
	Bundles    []BundleRef
	Supplement *yaml.Node
}

// NewToken returns a fresh opaque id for links and bundles.
func NewToken() string {
	return utils.TokenHex(tokenBytes)
}

// Prereq returns the prereq commit for the named branch across all bundles,
// or "" when the branch is not covered.
func (l *Link) Prereq(branch string) string {
	for _, b := range l.Bundles {
		for _, p := range b.Prereqs {
			if p.Branch == branch {
				return p.Commit
			}
		}
	}
	return ""
}

// Head returns the published head for the named branch, or "".
func (l *Link) Head(branch string) string {
	for _, b := range l.Branches {
		if b.Name == branch {
			return b.Head
		}
	}
	return ""
}

// Marshal renders the wire form: a four element sequence of
// [id, prev_id], branch pairs, bundle entries and the supplement mapping.
// Bundle prereqs flatten to alternating branch/commit strings.
func (l *Link) Marshal() ([]byte, error) {
	branches := make([][]string, 0, len(l.Branches))
	for _, b := range l.Branches {
		branches = append(branches, []string{b.Name, b.Head})
	}

	bundles := make([]any, 0, len(l.Bundles))
	for _, b := range l.Bundles {
		flat := make([]string, 0, 2*len(b.Prereqs))
		for _, p := range b.Prereqs {
			flat = append(flat, p.Branch, p.Commit)
		}
		bundles = append(bundles, []any{b.ID, flat})
	}

	var supplement any = map[string]any{}
	if l.Supplement != nil {
		supplement = l.Supplement
	}

	doc := []any{
		[]string{l.ID, l.PrevID},
		branches,
		bundles,
		supplement,
	}
	return yaml.Marshal(doc)
}

// Parse reads the wire form produced by Marshal. Readers tolerate a missing
// supplement element and keep whatever it holds opaque.
func Parse(data []byte) (*Link, error) {
	var doc []yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(doc) < 3 {
		return nil, fmt.Errorf("%w: want at least 3 elements, got %d", ErrMalformed, len(doc))
	}

	var ids []string
	if err := doc[0].Decode(&ids); err != nil || len(ids) != 2 {
		return nil, fmt.Errorf("%w: bad id pair", ErrMalformed)
	}

	var branchPairs [][]string
	if err := doc[1].Decode(&branchPairs); err != nil {
		return nil, fmt.Errorf("%w: bad branch list", ErrMalformed)
	}
	branches := make([]Branch, 0, len(branchPairs))
	for _, p := range branchPairs {
		if len(p) != 2 {
			return nil, fmt.Errorf("%w: bad branch pair %v", ErrMalformed, p)
		}
		branches = append(branches, Branch{Name: p[0], Head: p[1]})
	}

	var bundleNodes []yaml.Node
	if err := doc[2].Decode(&bundleNodes); err != nil {
		return nil, fmt.Errorf("%w: bad bundle list", ErrMalformed)
	}
	bundles := make([]BundleRef, 0, len(bundleNodes))
	for _, bn := range bundleNodes {
		var entry []yaml.Node
		if err := bn.Decode(&entry); err != nil || len(entry) != 2 {
			return nil, fmt.Errorf("%w: bad bundle entry", ErrMalformed)
		}
		var id string
		if err := entry[0].Decode(&id); err != nil {
			return nil, fmt.Errorf("%w: bad bundle id", ErrMalformed)
		}
		var flat []string
		if err := entry[1].Decode(&flat); err != nil || len(flat)%2 != 0 {
			return nil, fmt.Errorf("%w: bad prereq list for bundle %s", ErrMalformed, id)
		}
		prereqs := make([]Prereq, 0, len(flat)/2)
		for i := 0; i < len(flat); i += 2 {
			prereqs = append(prereqs, Prereq{Branch: flat[i], Commit: flat[i+1]})
		}
		bundles = append(bundles, BundleRef{ID: id, Prereqs: prereqs})
	}

	l := &Link{
		ID:       ids[0],
		PrevID:   ids[1],
		Branches: branches,
		Bundles:  bundles,
	}
	if len(doc) > 3 {
		l.Supplement = &doc[3]
	}
	return l, nil
}
