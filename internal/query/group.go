package query

import (
	"sort"
	"strings"

	"github.com/kaiwahq/kaiwa/internal/corpus"
)

// groupThreads splits an ascending candidate stream into thread
// groups: one user turn plus the assistant turns that answer it.
// Messages are partitioned by session first, so interleaved sessions
// never share a group. Groups without a user message are merged into
// the preceding group of the same session where one exists, otherwise
// dropped. The returned groups are ordered by their first message's
// timestamp, ascending.
func groupThreads(msgs []corpus.Message) [][]corpus.Message {
	if len(msgs) == 0 {
		return nil
	}

	var order []string
	bySession := make(map[string][]corpus.Message)
	for _, m := range msgs {
		if _, ok := bySession[m.SessionID]; !ok {
			order = append(order, m.SessionID)
		}
		bySession[m.SessionID] = append(bySession[m.SessionID], m)
	}

	type thread struct {
		ts   string
		msgs []corpus.Message
	}
	var all []thread
	for _, sid := range order {
		sess := bySession[sid]
		sort.SliceStable(sess, func(i, j int) bool {
			return sess[i].Timestamp < sess[j].Timestamp
		})
		for _, g := range groupSession(sess) {
			all = append(all, thread{ts: g[0].Timestamp, msgs: g})
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].ts < all[j].ts })

	out := make([][]corpus.Message, len(all))
	for i, t := range all {
		out[i] = t.msgs
	}
	return out
}

// groupSession sweeps one session's ascending messages: a user message
// opens a group, everything else appends to the current one.
func groupSession(msgs []corpus.Message) [][]corpus.Message {
	var groups [][]corpus.Message
	var cur []corpus.Message
	for _, m := range msgs {
		if m.Type != corpus.TypeUser {
			cur = append(cur, m)
			continue
		}
		if len(cur) > 0 {
			groups = append(groups, cur)
		}
		cur = []corpus.Message{m}
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}

	var kept [][]corpus.Message
	for _, g := range groups {
		if !hasUser(g) {
			if len(kept) > 0 {
				kept[len(kept)-1] = append(kept[len(kept)-1], g...)
			}
			continue
		}
		kept = append(kept, g)
	}
	return kept
}

func hasUser(g []corpus.Message) bool {
	for _, m := range g {
		if m.Type == corpus.TypeUser {
			return true
		}
	}
	return false
}

// annotate applies the keyword pass over grouped threads: groups with
// no matching message are dropped, every message in a kept group gets
// is_search_match set to its own result and search_keyword set to the
// requested keyword. The returned count is the number of matching
// messages across all kept groups, independent of pagination. With an
// empty keyword the groups pass through untouched.
func annotate(groups [][]corpus.Message, keyword string) (kept [][]corpus.Message, matches int) {
	if keyword == "" {
		return groups, 0
	}
	lower := strings.ToLower(keyword)
	for _, g := range groups {
		found := false
		for i := range g {
			if strings.Contains(strings.ToLower(g[i].Content), lower) {
				found = true
				break
			}
		}
		if !found {
			continue
		}
		for i := range g {
			matched := strings.Contains(strings.ToLower(g[i].Content), lower)
			g[i].IsSearchMatch = &matched
			g[i].SearchKeyword = keyword
			if matched {
				matches++
			}
		}
		kept = append(kept, g)
	}
	return kept, matches
}

func reverseMessages(s []corpus.Message) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func reverseGroups(s [][]corpus.Message) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
