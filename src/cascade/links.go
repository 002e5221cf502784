package cascade

import (
	"bytes"
	"context"
	"sort"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/types"
)

// GetLinks returns the live links on a base that match query, oldest first.
// A link is live while no valid RegisterRemoveLink refers to its CreateLink.
func (c *Cascade) GetLinks(ctx context.Context, base hh.AnyLinkable, query types.LinkQuery, opts types.GetOptions) ([]types.Link, error) {
	if c.useNetwork(opts) {
		responses, err := c.network.GetLinks(ctx, base, query)
		if err != nil {
			c.logger.WithError(err).WithField("base", base.String()).Debug("Network get_links failed")
		}
		c.cacheResponses(responses)
	}

	ops, err := c.gather(base, types.OpRegisterAddLink, types.OpRegisterRemoveLink)
	if err != nil {
		return nil, err
	}
	return liveLinks(ops, query), nil
}

func liveLinks(ops []*held, query types.LinkQuery) []types.Link {
	removed := make(map[hh.ActionHash]bool)
	for _, o := range ops {
		if o.valid() && o.op.Type == types.OpRegisterRemoveLink {
			removed[o.action().LinkAddAction] = true
		}
	}

	links := []types.Link{}
	for _, o := range ops {
		if !o.valid() || o.op.Type != types.OpRegisterAddLink {
			continue
		}
		h := o.op.Action.Hash()
		a := o.action()
		if removed[h] || !MatchLink(a, query) {
			continue
		}
		links = append(links, types.Link{
			Author:     a.Author,
			Base:       a.Base,
			Target:     a.Target,
			Timestamp:  a.Timestamp,
			ZomeIndex:  a.ZomeIndex,
			LinkType:   a.LinkType,
			Tag:        a.Tag,
			CreateLink: h,
		})
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].Timestamp != links[j].Timestamp {
			return links[i].Timestamp < links[j].Timestamp
		}
		return hh.Compare(links[i].CreateLink, links[j].CreateLink) < 0
	})
	return links
}

// MatchLink reports whether a CreateLink action passes a link query.
func MatchLink(a *types.Action, q types.LinkQuery) bool {
	if len(q.LinkTypes) > 0 {
		if a.ZomeIndex != q.ZomeIndex {
			return false
		}
		ok := false
		for _, lt := range q.LinkTypes {
			if a.LinkType == lt {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(q.TagPrefix) > 0 && !bytes.HasPrefix(a.Tag, q.TagPrefix) {
		return false
	}
	if !q.Author.IsZero() && a.Author != q.Author {
		return false
	}
	return true
}
