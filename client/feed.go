package client

import (
	"context"
	"errors"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const (
	defaultPageSize     = 20
	defaultFeedCooldown = 300 * time.Millisecond
	tempIDPrefix        = "temp-"
)

var errMissingAPI = errors.New("client: api is required")

// FeedState is the fetch-loop state of the artifact feed.
type FeedState int

const (
	// StateIdle means no fetch is in flight and triggers are accepted.
	StateIdle FeedState = iota
	// StateFetching means a page fetch is in flight; further triggers are dropped.
	StateFetching
	// StateCooldown suppresses re-triggering briefly after a fetch completes.
	StateCooldown
)

// FeedAPI is the network surface the feed mutates and fetches through.
// *API satisfies it.
type FeedAPI interface {
	ListArtifacts(ctx context.Context, query ListQuery) (ArtifactPage, error)
	CreateTextArtifact(ctx context.Context, title, textContent string) (Artifact, error)
	CreateFileArtifact(ctx context.Context, request CreateFileRequest) (Artifact, error)
	DeleteArtifact(ctx context.Context, artifactID string) (Artifact, error)
	UpdateText(ctx context.Context, artifactID, title, textContent string) (Artifact, error)
	AttachTag(ctx context.Context, artifactID, tagName string) (AttachResult, error)
	DetachTag(ctx context.Context, artifactID, tagID string) (Artifact, error)
}

// FeedConfig configures the artifact feed.
type FeedConfig struct {
	API      FeedAPI
	PageSize int
	Cooldown time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
}

// ArtifactFeed is the client-resident artifact collection. It applies
// mutations optimistically before their network call and reconciles or rolls
// back when the call resolves, keyed by entity id so a late response lands on
// whatever that entity looks like now. The fetch loop holds the pagination
// cursor and enforces one in-flight fetch plus a cooldown window.
type ArtifactFeed struct {
	api      FeedAPI
	pageSize int
	cooldown time.Duration
	clock    func() time.Time
	logger   *zap.Logger

	mu            sync.Mutex
	artifacts     []Artifact
	nextCursor    string
	hasMore       bool
	fetched       bool
	fetching      bool
	cooldownUntil time.Time
	search        string
	tagFilters    []string
	generation    int
}

// NewArtifactFeed constructs the feed.
func NewArtifactFeed(cfg FeedConfig) (*ArtifactFeed, error) {
	if cfg.API == nil {
		return nil, errMissingAPI
	}
	pageSize := cfg.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultFeedCooldown
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactFeed{
		api:       cfg.API,
		pageSize:  pageSize,
		cooldown:  cooldown,
		clock:     clock,
		logger:    logger,
		artifacts: []Artifact{},
	}, nil
}

// Artifacts returns a copy of the current collection in feed order.
func (f *ArtifactFeed) Artifacts() []Artifact {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := make([]Artifact, len(f.artifacts))
	copy(snapshot, f.artifacts)
	return snapshot
}

// HasMore reports whether unfetched pages remain.
func (f *ArtifactFeed) HasMore() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasMore
}

// State returns the current fetch-loop state.
func (f *ArtifactFeed) State() FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked()
}

func (f *ArtifactFeed) stateLocked() FeedState {
	if f.fetching {
		return StateFetching
	}
	if f.clock().Before(f.cooldownUntil) {
		return StateCooldown
	}
	return StateIdle
}

// SetFilter replaces the search term and tag-id filter set. A change resets
// the cursor, clears the collection, and lifts any cooldown so the next
// FetchNext runs as a new search. An in-flight fetch for the old filter is
// discarded when it resolves.
func (f *ArtifactFeed) SetFilter(search string, tagIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if search == f.search && equalStrings(tagIDs, f.tagFilters) {
		return
	}

	f.generation++
	f.search = search
	f.tagFilters = append([]string(nil), tagIDs...)
	f.artifacts = []Artifact{}
	f.nextCursor = ""
	f.hasMore = false
	f.fetched = false
	f.cooldownUntil = time.Time{}
}

// FetchNext fetches the next page for the current filter. It reports whether
// a fetch was issued: a trigger while one is already in flight, during
// cooldown, or after the collection is exhausted is dropped. A failed fetch
// leaves the current collection and cursor intact and returns the error.
func (f *ArtifactFeed) FetchNext(ctx context.Context) (bool, error) {
	f.mu.Lock()
	if f.stateLocked() != StateIdle {
		f.mu.Unlock()
		return false, nil
	}
	if f.fetched && !f.hasMore {
		f.mu.Unlock()
		return false, nil
	}
	generation := f.generation
	query := ListQuery{
		Search: f.search,
		TagIDs: append([]string(nil), f.tagFilters...),
		Limit:  f.pageSize,
		Cursor: f.nextCursor,
	}
	f.fetching = true
	f.mu.Unlock()

	page, err := f.api.ListArtifacts(ctx, query)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetching = false

	if generation != f.generation {
		// Filter changed while the fetch was in flight; the response
		// belongs to the old search and is dropped.
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if query.Cursor == "" {
		f.artifacts = append([]Artifact{}, page.Artifacts...)
	} else {
		f.artifacts = append(f.artifacts, page.Artifacts...)
	}
	f.adoptPageLocked(page)
	f.fetched = true
	f.cooldownUntil = f.clock().Add(f.cooldown)
	return true, nil
}

func (f *ArtifactFeed) adoptPageLocked(page ArtifactPage) {
	if page.NextCursor != nil {
		f.nextCursor = *page.NextCursor
	}
	f.hasMore = page.HasMore
}

// CreateText creates a TEXT artifact, showing it at the top of the feed
// immediately under a placeholder id.
func (f *ArtifactFeed) CreateText(ctx context.Context, title, textContent string) (Artifact, error) {
	optimistic := Artifact{
		ID:          tempID(),
		Title:       title,
		FileType:    "TEXT",
		TextContent: textContent,
		CreatedAt:   f.clock().UnixMilli(),
		Tags:        []Tag{},
	}
	return f.create(ctx, optimistic, func(ctx context.Context) (Artifact, error) {
		return f.api.CreateTextArtifact(ctx, title, textContent)
	})
}

// CreateFile creates a FILE artifact, showing it at the top of the feed
// immediately under a placeholder id.
func (f *ArtifactFeed) CreateFile(ctx context.Context, request CreateFileRequest) (Artifact, error) {
	optimistic := Artifact{
		ID:        tempID(),
		Title:     request.Title,
		FileType:  "FILE",
		FileName:  request.FileName,
		FileURL:   request.FileURL,
		FileSize:  request.FileSize,
		IsImage:   request.IsImage,
		CreatedAt: f.clock().UnixMilli(),
		Tags:      []Tag{},
	}
	return f.create(ctx, optimistic, func(ctx context.Context) (Artifact, error) {
		return f.api.CreateFileArtifact(ctx, request)
	})
}

func (f *ArtifactFeed) create(ctx context.Context, optimistic Artifact, call func(context.Context) (Artifact, error)) (Artifact, error) {
	f.mu.Lock()
	f.artifacts = append([]Artifact{optimistic}, f.artifacts...)
	f.mu.Unlock()

	created, err := call(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.removeLocked(optimistic.ID)
		return Artifact{}, err
	}
	f.replaceLocked(optimistic.ID, created)
	return created, nil
}

// Delete removes an artifact from the feed immediately. On failure the
// artifact is restored at its original position. On success, while more pages
// remain, a single-item backfill keeps the visible page size stable.
func (f *ArtifactFeed) Delete(ctx context.Context, artifactID string) (Artifact, error) {
	f.mu.Lock()
	index, present := f.indexLocked(artifactID)
	var snapshot Artifact
	if present {
		snapshot = cloneArtifact(f.artifacts[index])
		f.artifacts = append(f.artifacts[:index], f.artifacts[index+1:]...)
	}
	f.mu.Unlock()

	deleted, err := f.api.DeleteArtifact(ctx, artifactID)

	f.mu.Lock()
	if err != nil {
		if present {
			f.insertLocked(snapshot, index)
		}
		f.mu.Unlock()
		return Artifact{}, err
	}
	needsBackfill := f.hasMore
	f.mu.Unlock()

	if needsBackfill {
		f.backfillOne(ctx)
	}
	return deleted, nil
}

// backfillOne fetches a single artifact past the current cursor so a delete
// does not shrink the rendered page. Failures only log; the next scroll
// trigger fetches normally.
func (f *ArtifactFeed) backfillOne(ctx context.Context) {
	f.mu.Lock()
	if f.fetching {
		f.mu.Unlock()
		return
	}
	generation := f.generation
	query := ListQuery{
		Search: f.search,
		TagIDs: append([]string(nil), f.tagFilters...),
		Limit:  1,
		Cursor: f.nextCursor,
	}
	f.fetching = true
	f.mu.Unlock()

	page, err := f.api.ListArtifacts(ctx, query)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetching = false
	if err != nil {
		f.logger.Warn("backfill fetch failed", zap.Error(err))
		return
	}
	if generation != f.generation {
		return
	}
	f.artifacts = append(f.artifacts, page.Artifacts...)
	f.adoptPageLocked(page)
}

// UpdateText edits a TEXT artifact's title, and its content when a non-empty
// value is supplied. The edit is visible immediately and reverts on failure.
func (f *ArtifactFeed) UpdateText(ctx context.Context, artifactID, title, textContent string) (Artifact, error) {
	f.mu.Lock()
	index, present := f.indexLocked(artifactID)
	var snapshot Artifact
	if present {
		snapshot = cloneArtifact(f.artifacts[index])
		f.artifacts[index].Title = title
		if textContent != "" {
			f.artifacts[index].TextContent = textContent
		}
	}
	f.mu.Unlock()

	updated, err := f.api.UpdateText(ctx, artifactID, title, textContent)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		if present {
			f.replaceLocked(artifactID, snapshot)
		}
		return Artifact{}, err
	}
	f.replaceLocked(artifactID, updated)
	return updated, nil
}

// AttachTag attaches a tag by name, showing it on the artifact immediately
// under a placeholder id.
func (f *ArtifactFeed) AttachTag(ctx context.Context, artifactID, tagName string) (AttachResult, error) {
	f.mu.Lock()
	index, present := f.indexLocked(artifactID)
	var snapshot Artifact
	if present {
		snapshot = cloneArtifact(f.artifacts[index])
		if !hasTagNamed(f.artifacts[index].Tags, tagName) {
			f.artifacts[index].Tags = append(f.artifacts[index].Tags, Tag{ID: tempID(), Name: tagName})
		}
	}
	f.mu.Unlock()

	result, err := f.api.AttachTag(ctx, artifactID, tagName)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		if present {
			f.replaceLocked(artifactID, snapshot)
		}
		return AttachResult{}, err
	}
	f.replaceLocked(artifactID, result.Artifact)
	return result, nil
}

// DetachTag removes a tag from an artifact, hiding it immediately.
func (f *ArtifactFeed) DetachTag(ctx context.Context, artifactID, tagID string) (Artifact, error) {
	f.mu.Lock()
	index, present := f.indexLocked(artifactID)
	var snapshot Artifact
	if present {
		snapshot = cloneArtifact(f.artifacts[index])
		f.artifacts[index].Tags = removeTag(f.artifacts[index].Tags, tagID)
	}
	f.mu.Unlock()

	updated, err := f.api.DetachTag(ctx, artifactID, tagID)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		if present {
			f.replaceLocked(artifactID, snapshot)
		}
		return Artifact{}, err
	}
	f.replaceLocked(artifactID, updated)
	return updated, nil
}

func (f *ArtifactFeed) indexLocked(artifactID string) (int, bool) {
	for index, artifact := range f.artifacts {
		if artifact.ID == artifactID {
			return index, true
		}
	}
	return 0, false
}

// replaceLocked swaps the entry currently holding the id, wherever it sits
// now. A missing entry means the collection was reset while the call was in
// flight; the response is dropped.
func (f *ArtifactFeed) replaceLocked(artifactID string, replacement Artifact) {
	if index, present := f.indexLocked(artifactID); present {
		f.artifacts[index] = replacement
	}
}

func (f *ArtifactFeed) removeLocked(artifactID string) {
	if index, present := f.indexLocked(artifactID); present {
		f.artifacts = append(f.artifacts[:index], f.artifacts[index+1:]...)
	}
}

func (f *ArtifactFeed) insertLocked(artifact Artifact, index int) {
	if index > len(f.artifacts) {
		index = len(f.artifacts)
	}
	f.artifacts = append(f.artifacts, Artifact{})
	copy(f.artifacts[index+1:], f.artifacts[index:])
	f.artifacts[index] = artifact
}

func cloneArtifact(artifact Artifact) Artifact {
	clone := artifact
	clone.Tags = append([]Tag(nil), artifact.Tags...)
	return clone
}

func hasTagNamed(attached []Tag, name string) bool {
	for _, tag := range attached {
		if tag.Name == name {
			return true
		}
	}
	return false
}

func removeTag(attached []Tag, tagID string) []Tag {
	remaining := make([]Tag, 0, len(attached))
	for _, tag := range attached {
		if tag.ID != tagID {
			remaining = append(remaining, tag)
		}
	}
	return remaining
}

func equalStrings(left, right []string) bool {
	if len(left) != len(right) {
		return false
	}
	for index := range left {
		if left[index] != right[index] {
			return false
		}
	}
	return true
}

func tempID() string {
	return tempIDPrefix + gonanoid.Must()
}
