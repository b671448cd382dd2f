package client

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time {
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type fakeFeedAPI struct {
	listFunc   func(ListQuery) (ArtifactPage, error)
	createText func(title, text string) (Artifact, error)
	createFile func(CreateFileRequest) (Artifact, error)
	deleteFunc func(id string) (Artifact, error)
	updateFunc func(id, title, text string) (Artifact, error)
	attachFunc func(id, name string) (AttachResult, error)
	detachFunc func(id, tagID string) (Artifact, error)

	listCalls []ListQuery
}

func (f *fakeFeedAPI) ListArtifacts(_ context.Context, query ListQuery) (ArtifactPage, error) {
	f.listCalls = append(f.listCalls, query)
	if f.listFunc == nil {
		return ArtifactPage{Artifacts: []Artifact{}}, nil
	}
	return f.listFunc(query)
}

func (f *fakeFeedAPI) CreateTextArtifact(_ context.Context, title, text string) (Artifact, error) {
	return f.createText(title, text)
}

func (f *fakeFeedAPI) CreateFileArtifact(_ context.Context, request CreateFileRequest) (Artifact, error) {
	return f.createFile(request)
}

func (f *fakeFeedAPI) DeleteArtifact(_ context.Context, id string) (Artifact, error) {
	return f.deleteFunc(id)
}

func (f *fakeFeedAPI) UpdateText(_ context.Context, id, title, text string) (Artifact, error) {
	return f.updateFunc(id, title, text)
}

func (f *fakeFeedAPI) AttachTag(_ context.Context, id, name string) (AttachResult, error) {
	return f.attachFunc(id, name)
}

func (f *fakeFeedAPI) DetachTag(_ context.Context, id, tagID string) (Artifact, error) {
	return f.detachFunc(id, tagID)
}

func newTestFeed(t *testing.T, api *fakeFeedAPI) (*ArtifactFeed, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Unix(1700000000, 0).UTC()}
	feed, err := NewArtifactFeed(FeedConfig{
		API:      api,
		PageSize: 3,
		Cooldown: 300 * time.Millisecond,
		Clock:    clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to build feed: %v", err)
	}
	return feed, clock
}

func pageOf(ids []string, cursor string, hasMore bool) ArtifactPage {
	page := ArtifactPage{Artifacts: make([]Artifact, 0, len(ids)), HasMore: hasMore}
	for _, id := range ids {
		page.Artifacts = append(page.Artifacts, Artifact{ID: id, FileType: "TEXT", Tags: []Tag{}})
	}
	if cursor != "" {
		page.NextCursor = &cursor
	}
	return page
}

func feedIDs(feed *ArtifactFeed) []string {
	artifacts := feed.Artifacts()
	ids := make([]string, 0, len(artifacts))
	for _, artifact := range artifacts {
		ids = append(ids, artifact.ID)
	}
	return ids
}

func expectIDs(t *testing.T, feed *ArtifactFeed, expected ...string) {
	t.Helper()
	actual := feedIDs(feed)
	if len(actual) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
	for index := range expected {
		if actual[index] != expected[index] {
			t.Fatalf("expected %v, got %v", expected, actual)
		}
	}
}

// seedFeed loads one page into the feed and moves the clock past cooldown.
func seedFeed(t *testing.T, feed *ArtifactFeed, clock *manualClock, api *fakeFeedAPI, page ArtifactPage) {
	t.Helper()
	previous := api.listFunc
	api.listFunc = func(ListQuery) (ArtifactPage, error) { return page, nil }
	issued, err := feed.FetchNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected fetch error: %v", err)
	}
	if !issued {
		t.Fatalf("expected seed fetch to be issued")
	}
	api.listFunc = previous
	clock.Advance(time.Second)
}

func TestFetchNextLoadsFirstPage(t *testing.T) {
	api := &fakeFeedAPI{}
	feed, _ := newTestFeed(t, api)
	api.listFunc = func(query ListQuery) (ArtifactPage, error) {
		if query.Cursor != "" || query.Limit != 3 {
			t.Fatalf("unexpected first page query %#v", query)
		}
		return pageOf([]string{"P", "Q", "R"}, "R", true), nil
	}

	issued, err := feed.FetchNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !issued {
		t.Fatalf("expected fetch to be issued")
	}
	expectIDs(t, feed, "P", "Q", "R")
	if !feed.HasMore() {
		t.Fatalf("expected more pages")
	}
}

func TestFetchAppendsNextPageWithCursor(t *testing.T) {
	api := &fakeFeedAPI{}
	feed, clock := newTestFeed(t, api)
	seedFeed(t, feed, clock, api, pageOf([]string{"P", "Q", "R"}, "R", true))

	api.listFunc = func(query ListQuery) (ArtifactPage, error) {
		if query.Cursor != "R" {
			t.Fatalf("expected continuation from R, got %q", query.Cursor)
		}
		return pageOf([]string{"S", "T"}, "T", false), nil
	}
	if _, err := feed.FetchNext(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectIDs(t, feed, "P", "Q", "R", "S", "T")
	if feed.HasMore() {
		t.Fatalf("expected collection exhausted")
	}
}

func TestFetchDroppedWhileInFlight(t *testing.T) {
	api := &fakeFeedAPI{}
	feed, _ := newTestFeed(t, api)

	started := make(chan struct{})
	release := make(chan struct{})
	api.listFunc = func(ListQuery) (ArtifactPage, error) {
		close(started)
		<-release
		return pageOf([]string{"P"}, "P", false), nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := feed.FetchNext(context.Background())
		done <- err
	}()
	<-started

	if feed.State() != StateFetching {
		t.Fatalf("expected Fetching state while in flight")
	}
	issued, err := feed.FetchNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issued {
		t.Fatalf("concurrent trigger must be dropped, not queued")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.listCalls) != 1 {
		t.Fatalf("expected a single network call, got %d", len(api.listCalls))
	}
}

func TestFetchSuppressedDuringCooldown(t *testing.T) {
	api := &fakeFeedAPI{}
	feed, clock := newTestFeed(t, api)
	api.listFunc = func(ListQuery) (ArtifactPage, error) {
		return pageOf([]string{"P"}, "P", true), nil
	}

	if _, err := feed.FetchNext(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if feed.State() != StateCooldown {
		t.Fatalf("expected Cooldown after fetch")
	}

	issued, err := feed.FetchNext(context.Background())
	if err != nil || issued {
		t.Fatalf("expected trigger suppressed during cooldown, issued=%v err=%v", issued, err)
	}

	clock.Advance(time.Second)
	if feed.State() != StateIdle {
		t.Fatalf("expected Idle after cooldown elapsed")
	}
	issued, err = feed.FetchNext(context.Background())
	if err != nil || !issued {
		t.Fatalf("expected fetch after cooldown, issued=%v err=%v", issued, err)
	}
}

func TestFetchStopsWhenExhausted(t *testing.T) {
	api := &fakeFeedAPI{}
	feed, clock := newTestFeed(t, api)
	seedFeed(t, feed, clock, api, pageOf([]string{"P"}, "P", false))

	issued, err := feed.FetchNext(context.Background())
	if err != nil || issued {
		t.Fatalf("expected no fetch once exhausted, issued=%v err=%v", issued, err)
	}
	if len(api.listCalls) != 1 {
		t.Fatalf("expected no further network calls, got %d", len(api.listCalls))
	}
}

func TestFetchFailureKeepsPageAndCursor(t *testing.T) {
	api := &fakeFeedAPI{}
	feed, clock := newTestFeed(t, api)
	seedFeed(t, feed, clock, api, pageOf([]string{"P", "Q", "R"}, "R", true))

	api.listFunc = func(ListQuery) (ArtifactPage, error) {
		return ArtifactPage{}, errors.New("network down")
	}
	if _, err := feed.FetchNext(context.Background()); err == nil {
		t.Fatalf("expected fetch error surfaced")
	}
	expectIDs(t, feed, "P", "Q", "R")

	// The next trigger retries from the same cursor; no partial page was adopted.
	api.listFunc = func(query ListQuery) (ArtifactPage, error) {
		if query.Cursor != "R" {
			t.Fatalf("expected retry from cursor R, got %q", query.Cursor)
		}
		return pageOf([]string{"S"}, "S", false), nil
	}
	if _, err := feed.FetchNext(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectIDs(t, feed, "P", "Q", "R", "S")
}

func TestSetFilterResetsAndReplaces(t *testing.T) {
	api := &fakeFeedAPI{}
	feed, clock := newTestFeed(t, api)
	seedFeed(t, feed, clock, api, pageOf([]string{"P", "Q"}, "Q", true))

	feed.SetFilter("report", []string{"tag-1"})
	if len(feed.Artifacts()) != 0 {
		t.Fatalf("filter change must clear the collection")
	}

	api.listFunc = func(query ListQuery) (ArtifactPage, error) {
		if query.Cursor != "" || query.Search != "report" || len(query.TagIDs) != 1 {
			t.Fatalf("expected reset query, got %#v", query)
		}
		return pageOf([]string{"X"}, "X", false), nil
	}
	issued, err := feed.FetchNext(context.Background())
	if err != nil || !issued {
		t.Fatalf("expected immediate refetch after filter change, issued=%v err=%v", issued, err)
	}
	expectIDs(t, feed, "X")
}

func TestSetFilterDiscardsInFlightResponse(t *testing.T) {
	api := &fakeFeedAPI{}
	feed, _ := newTestFeed(t, api)

	started := make(chan struct{})
	release := make(chan struct{})
	api.listFunc = func(ListQuery) (ArtifactPage, error) {
		close(started)
		<-release
		return pageOf([]string{"STALE"}, "STALE", true), nil
	}

	done := make(chan bool, 1)
	go func() {
		issued, _ := feed.FetchNext(context.Background())
		done <- issued
	}()
	<-started

	feed.SetFilter("new search", nil)
	close(release)
	if adopted := <-done; adopted {
		t.Fatalf("stale response must be discarded after filter change")
	}
	if len(feed.Artifacts()) != 0 {
		t.Fatalf("stale page must not be adopted, got %v", feedIDs(feed))
	}
}

func TestDeleteAppliesOptimisticallyAndRollsBack(t *testing.T) {
	api := &fakeFeedAPI{}
	feed, clock := newTestFeed(t, api)
	seedFeed(t, feed, clock, api, pageOf([]string{"P", "Q", "R"}, "R", false))

	api.deleteFunc = func(id string) (Artifact, error) {
		// The optimistic removal is visible before the call resolves.
		expectIDs(t, feed, "P", "R")
		return Artifact{}, errors.New("server error")
	}
	if _, err := feed.Delete(context.Background(), "Q"); err == nil {
		t.Fatalf("expected delete error surfaced")
	}
	// Q returns to its exact original position.
	expectIDs(t, feed, "P", "Q", "R")
}

func TestDeleteBackfillsWhileMoreRemain(t *testing.T) {
	api := &fakeFeedAPI{}
	feed, clock := newTestFeed(t, api)
	seedFeed(t, feed, clock, api, pageOf([]string{"P", "Q", "R"}, "R", true))

	api.deleteFunc = func(id string) (Artifact, error) {
		return Artifact{ID: id}, nil
	}
	api.listFunc = func(query ListQuery) (ArtifactPage, error) {
		if query.Limit != 1 {
			t.Fatalf("backfill must request a single item, got %d", query.Limit)
		}
		if query.Cursor != "R" {
			t.Fatalf("backfill must continue from the cursor, got %q", query.Cursor)
		}
		return pageOf([]string{"S"}, "S", false), nil
	}

	if _, err := feed.Delete(context.Background(), "Q"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectIDs(t, feed, "P", "R", "S")
	if feed.HasMore() {
		t.Fatalf("backfill response said the collection is exhausted")
	}
}

func TestDeleteWithoutMorePagesSkipsBackfill(t *testing.T) {
	api := &fakeFeedAPI{}
	feed, clock := newTestFeed(t, api)
	seedFeed(t, feed, clock, api, pageOf([]string{"P", "Q"}, "Q", false))

	api.deleteFunc = func(id string) (Artifact, error) {
		return Artifact{ID: id}, nil
	}
	if _, err := feed.Delete(context.Background(), "Q"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectIDs(t, feed, "P")
	if len(api.listCalls) != 1 {
		t.Fatalf("expected no backfill call, got %d list calls", len(api.listCalls))
	}
}

func TestCreateSwapsPlaceholderForCanonicalRecord(t *testing.T) {
	api := &fakeFeedAPI{}
	feed, _ := newTestFeed(t, api)

	api.createText = func(title, text string) (Artifact, error) {
		ids := feedIDs(feed)
		if len(ids) != 1 || !strings.HasPrefix(ids[0], tempIDPrefix) {
			t.Fatalf("expected optimistic placeholder before resolution, got %v", ids)
		}
		return Artifact{ID: "server-1", Title: title, FileType: "TEXT", TextContent: text, Tags: []Tag{}}, nil
	}

	created, err := feed.CreateText(context.Background(), "Note", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID != "server-1" {
		t.Fatalf("unexpected canonical id %q", created.ID)
	}
	expectIDs(t, feed, "server-1")
}

func TestCreateFailureRemovesPlaceholder(t *testing.T) {
	api := &fakeFeedAPI{}
	feed, clock := newTestFeed(t, api)
	seedFeed(t, feed, clock, api, pageOf([]string{"P"}, "P", false))

	api.createText = func(string, string) (Artifact, error) {
		return Artifact{}, errors.New("rejected")
	}
	if _, err := feed.CreateText(context.Background(), "Note", "hello"); err == nil {
		t.Fatalf("expected create error surfaced")
	}
	expectIDs(t, feed, "P")
}

func TestUpdateTextOptimisticPartialEdit(t *testing.T) {
	api := &fakeFeedAPI{}
	feed, clock := newTestFeed(t, api)
	page := pageOf([]string{"P"}, "P", false)
	page.Artifacts[0].Title = "Old"
	page.Artifacts[0].TextContent = "body"
	seedFeed(t, feed, clock, api, page)

	api.updateFunc = func(id, title, text string) (Artifact, error) {
		current := feed.Artifacts()[0]
		if current.Title != "NewTitle" {
			t.Fatalf("expected optimistic title, got %q", current.Title)
		}
		if current.TextContent != "body" {
			t.Fatalf("empty content must not clear optimistically, got %q", current.TextContent)
		}
		return Artifact{}, errors.New("server error")
	}
	if _, err := feed.UpdateText(context.Background(), "P", "NewTitle", ""); err == nil {
		t.Fatalf("expected update error surfaced")
	}

	restored := feed.Artifacts()[0]
	if restored.Title != "Old" || restored.TextContent != "body" {
		t.Fatalf("expected exact snapshot restored, got %#v", restored)
	}
}

func TestUpdateTextAdoptsServerRecord(t *testing.T) {
	api := &fakeFeedAPI{}
	feed, clock := newTestFeed(t, api)
	seedFeed(t, feed, clock, api, pageOf([]string{"P"}, "P", false))

	api.updateFunc = func(id, title, text string) (Artifact, error) {
		return Artifact{ID: id, Title: title, FileType: "TEXT", TextContent: "canonical", Tags: []Tag{}}, nil
	}
	updated, err := feed.UpdateText(context.Background(), "P", "NewTitle", "draft")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.TextContent != "canonical" {
		t.Fatalf("expected server fields adopted verbatim, got %#v", updated)
	}
	if feed.Artifacts()[0].TextContent != "canonical" {
		t.Fatalf("expected cache entry replaced with server record")
	}
}

func TestAttachTagRollbackRestoresTagSet(t *testing.T) {
	api := &fakeFeedAPI{}
	feed, clock := newTestFeed(t, api)
	page := pageOf([]string{"P"}, "P", false)
	page.Artifacts[0].Tags = []Tag{{ID: "tag-1", Name: "existing"}}
	seedFeed(t, feed, clock, api, page)

	api.attachFunc = func(id, name string) (AttachResult, error) {
		attached := feed.Artifacts()[0].Tags
		if len(attached) != 2 {
			t.Fatalf("expected optimistic tag visible, got %#v", attached)
		}
		return AttachResult{}, errors.New("server error")
	}
	if _, err := feed.AttachTag(context.Background(), "P", "work"); err == nil {
		t.Fatalf("expected attach error surfaced")
	}

	attached := feed.Artifacts()[0].Tags
	if len(attached) != 1 || attached[0].ID != "tag-1" {
		t.Fatalf("expected original tag set restored, got %#v", attached)
	}
}

func TestDetachTagAdoptsServerTagSet(t *testing.T) {
	api := &fakeFeedAPI{}
	feed, clock := newTestFeed(t, api)
	page := pageOf([]string{"P"}, "P", false)
	page.Artifacts[0].Tags = []Tag{{ID: "tag-1", Name: "work"}, {ID: "tag-2", Name: "home"}}
	seedFeed(t, feed, clock, api, page)

	api.detachFunc = func(id, tagID string) (Artifact, error) {
		remaining := feed.Artifacts()[0].Tags
		if len(remaining) != 1 || remaining[0].ID != "tag-2" {
			t.Fatalf("expected optimistic removal, got %#v", remaining)
		}
		return Artifact{ID: id, FileType: "TEXT", Tags: []Tag{{ID: "tag-2", Name: "home"}}}, nil
	}
	updated, err := feed.DetachTag(context.Background(), "P", "tag-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updated.Tags) != 1 || updated.Tags[0].ID != "tag-2" {
		t.Fatalf("unexpected tag set %#v", updated.Tags)
	}
}
