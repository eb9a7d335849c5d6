package mesh

import (
	"sort"
	"strings"
)

// CapabilityMode restricts what the bot may execute. Companion mode means
// no attachment to the full-featured Meshtastic network exists.
type CapabilityMode int

const (
	ModeFull CapabilityMode = iota
	ModeCompanion
)

func (m CapabilityMode) String() string {
	if m == ModeCompanion {
		return "companion"
	}
	return "full"
}

// Eligibility tables are fixed at startup and read-only afterwards; the
// router consults them without locking.

// companionAllowList is the fixed set of commands permitted in companion
// mode. Note: /about appears here without a dispatch-table entry; the
// discrepancy is inherited behavior and intentionally preserved.
var companionAllowList = map[string]struct{}{
	"/help":        {},
	"/echo":        {},
	"/myinfo":      {},
	"/weather":     {},
	"/rain":        {},
	"/ai":          {},
	"/ia":          {},
	"/netinfo":     {},
	"/propagation": {},
	"/hops":        {},
	"/about":       {},
}

// meshtasticOnly lists commands valid only when issued from Meshtastic,
// each with the MeshCore command to suggest instead.
var meshtasticOnly = []isolationRule{
	{word: "/node", suggest: "/contacts"},
	{word: "/nodes", suggest: "/contacts"},
	{word: "/traceroute", suggest: "/advert"},
}

// meshcoreOnly lists commands valid only when issued from MeshCore.
var meshcoreOnly = []isolationRule{
	{word: "/contacts", suggest: "/nodes"},
	{word: "/advert", suggest: "/traceroute"},
}

type isolationRule struct {
	word    string
	suggest string
}

// CompanionAllowed reports whether the leading command word may execute in
// companion mode.
func CompanionAllowed(text string) bool {
	_, ok := companionAllowList[commandWord(text)]
	return ok
}

// CompanionCommands returns the sorted allow-list for user-visible replies.
func CompanionCommands() []string {
	words := make([]string, 0, len(companionAllowList))
	for w := range companionAllowList {
		words = append(words, w)
	}
	sort.Strings(words)
	return words
}

// CheckNetworkIsolation applies the per-network deny-lists. It returns a
// non-empty reply when the command is reserved for the other network.
// Matching is word-boundary exact (the word itself, or word followed by a
// space) so a short command never falsely matches a longer one sharing its
// prefix.
func CheckNetworkIsolation(text string, source NetworkTag) string {
	switch source {
	case NetworkMeshtastic:
		for _, rule := range meshcoreOnly {
			if matchesWord(text, rule.word) {
				return rule.word + " is only available from MeshCore; use " + rule.suggest + " here"
			}
		}
	case NetworkMeshCore:
		for _, rule := range meshtasticOnly {
			if matchesWord(text, rule.word) {
				return rule.word + " is only available from Meshtastic; use " + rule.suggest + " here"
			}
		}
	}
	return ""
}

func matchesWord(text, word string) bool {
	if text == word {
		return true
	}
	return strings.HasPrefix(text, word+" ")
}

func commandWord(text string) string {
	word, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	return word
}
