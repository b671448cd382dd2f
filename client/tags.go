package client

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var errTagNotCached = errors.New("client: tag not in collection")

// TagAPI is the network surface the tag collection talks through.
// *API satisfies it.
type TagAPI interface {
	ListTags(ctx context.Context) ([]TagWithMembership, error)
	CreateTag(ctx context.Context, tagName string) (Tag, error)
	DeleteTag(ctx context.Context, tagID string) (Tag, error)
}

// TagCollection is the client-resident tag list, kept sorted by name. Creates
// and deletes apply optimistically and roll back to the exact prior entry and
// position on failure.
type TagCollection struct {
	api TagAPI

	mu   sync.Mutex
	tags []TagWithMembership
}

// NewTagCollection constructs the collection.
func NewTagCollection(api TagAPI) (*TagCollection, error) {
	if api == nil {
		return nil, errMissingAPI
	}
	return &TagCollection{
		api:  api,
		tags: []TagWithMembership{},
	}, nil
}

// Tags returns a copy of the collection in name order.
func (c *TagCollection) Tags() []TagWithMembership {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make([]TagWithMembership, len(c.tags))
	copy(snapshot, c.tags)
	return snapshot
}

// Refresh replaces the collection with the server's current tag list.
func (c *TagCollection) Refresh(ctx context.Context) error {
	listed, err := c.api.ListTags(ctx)
	if err != nil {
		return err
	}
	sort.Slice(listed, func(i, j int) bool { return listed[i].Name < listed[j].Name })

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags = listed
	return nil
}

// Create adds a stand-alone tag, inserting it at its sorted position
// immediately under a placeholder id. On failure the placeholder is removed.
func (c *TagCollection) Create(ctx context.Context, tagName string) (Tag, error) {
	placeholder := TagWithMembership{
		ID:          tempID(),
		Name:        tagName,
		ArtifactIDs: []string{},
	}

	c.mu.Lock()
	c.insertSortedLocked(placeholder)
	c.mu.Unlock()

	created, err := c.api.CreateTag(ctx, tagName)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.removeLocked(placeholder.ID)
		return Tag{}, err
	}
	if index, present := c.indexLocked(placeholder.ID); present {
		c.tags[index] = TagWithMembership{ID: created.ID, Name: created.Name, ArtifactIDs: []string{}}
	}
	return created, nil
}

// Delete removes a tag from the collection immediately. On failure the entry
// is restored at its original position.
func (c *TagCollection) Delete(ctx context.Context, tagID string) (Tag, error) {
	c.mu.Lock()
	index, present := c.indexLocked(tagID)
	if !present {
		c.mu.Unlock()
		return Tag{}, errTagNotCached
	}
	snapshot := c.tags[index]
	c.tags = append(c.tags[:index], c.tags[index+1:]...)
	c.mu.Unlock()

	deleted, err := c.api.DeleteTag(ctx, tagID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		clamped := index
		if clamped > len(c.tags) {
			clamped = len(c.tags)
		}
		c.tags = append(c.tags, TagWithMembership{})
		copy(c.tags[clamped+1:], c.tags[clamped:])
		c.tags[clamped] = snapshot
		return Tag{}, err
	}
	return deleted, nil
}

// Drop removes a tag from the local collection without a network call. The
// feed uses it after the server reports a tag swept away by a detach or an
// artifact delete.
func (c *TagCollection) Drop(tagID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(tagID)
}

func (c *TagCollection) insertSortedLocked(entry TagWithMembership) {
	position := sort.Search(len(c.tags), func(i int) bool { return c.tags[i].Name >= entry.Name })
	c.tags = append(c.tags, TagWithMembership{})
	copy(c.tags[position+1:], c.tags[position:])
	c.tags[position] = entry
}

func (c *TagCollection) indexLocked(tagID string) (int, bool) {
	for index, tag := range c.tags {
		if tag.ID == tagID {
			return index, true
		}
	}
	return 0, false
}

func (c *TagCollection) removeLocked(tagID string) {
	if index, present := c.indexLocked(tagID); present {
		c.tags = append(c.tags[:index], c.tags[index+1:]...)
	}
}
