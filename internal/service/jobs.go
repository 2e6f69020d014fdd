package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ifuryst/plume/internal/models"
)

// WorkItem is one due post handed to the JobRunner.
type WorkItem struct {
	PostID      string
	OwnerID     string
	Content     models.PostContent
	Kind        models.PostKind
	ChannelKind string
	ScheduledAt time.Time
}

// channelKey identifies the channel a work item will publish through.
func (w WorkItem) channelKey() string {
	return w.OwnerID + "/" + w.ChannelKind
}

// JobSource finds posts due for publication. It keeps no state between
// calls: every call re-queries the store.
type JobSource struct {
	posts     PostStore
	batchSize int
}

// NewJobSource pages through the store batchSize posts at a time.
func NewJobSource(posts PostStore, batchSize int) *JobSource {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &JobSource{posts: posts, batchSize: batchSize}
}

// DueJobs returns the SCHEDULED posts with scheduledAt <= now across all
// owners, oldest scheduledAt first. It reads every due post, one page at a
// time, until the store returns a short page.
func (s *JobSource) DueJobs(ctx context.Context, now time.Time) ([]WorkItem, error) {
	var (
		posts []models.Post
		after DueCursor
	)
	for {
		page, err := s.posts.FindDuePosts(ctx, now, after, s.batchSize)
		if err != nil {
			return nil, fmt.Errorf("find due posts: %w", err)
		}
		posts = append(posts, page...)
		if len(page) < s.batchSize {
			break
		}
		last := page[len(page)-1]
		if last.ScheduledAt == nil {
			break
		}
		next := DueCursor{ScheduledAt: *last.ScheduledAt, ID: last.ID}
		if next.ID == after.ID && next.ScheduledAt.Equal(after.ScheduledAt) {
			break
		}
		after = next
	}

	items := make([]WorkItem, 0, len(posts))
	for i := range posts {
		p := &posts[i]
		if p.Status != models.PostStatusScheduled || p.ScheduledAt == nil || p.ScheduledAt.After(now) {
			continue
		}
		items = append(items, WorkItem{
			PostID:      p.ID,
			OwnerID:     p.OwnerID,
			Content:     p.Content,
			Kind:        p.Kind,
			ChannelKind: p.ChannelKind,
			ScheduledAt: *p.ScheduledAt,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ScheduledAt.Before(items[j].ScheduledAt)
	})
	return items, nil
}

// groupByChannel splits items per channel, keeping scheduledAt order inside
// each group and the order in which channels first appear.
func groupByChannel(items []WorkItem) [][]WorkItem {
	index := make(map[string]int)
	var groups [][]WorkItem
	for _, item := range items {
		key := item.channelKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], item)
	}
	return groups
}
