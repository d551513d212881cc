package web

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cache"
	"github.com/ValentinKolb/dDoc/lib/cache/engines/maple"
	"github.com/ValentinKolb/dDoc/lib/db/engines/memory"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/cstore"
)

// newTestStore returns a cached store on a private memory collection
func newTestStore(t *testing.T, name string) store.IStore {
	t.Helper()
	engine := maple.NewMapleCache(maple.DefaultOptions())
	t.Cleanup(func() { _ = engine.Close() })
	s := cstore.NewStore(memory.New("web", t.Name()+"/"+name), cache.NewMemoizer(name, engine))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestUsernames(t *testing.T) {
	for i := 0; i < 100; i++ {
		name := NewUsername()
		if !usernamePattern.MatchString(name) {
			t.Fatalf("unexpected user name %q", name)
		}
		if Avatar(name) == "" {
			t.Errorf("expected an avatar for %q", name)
		}
	}

	if got := Avatar("CuriousDolphin42"); got != "🐬" {
		t.Errorf("expected a dolphin, got %q", got)
	}
	if got := Avatar("HystericalPizza10"); got != "🍕" {
		t.Errorf("expected a pizza, got %q", got)
	}
	for _, name := range []string{"", "nobody", "CuriousDolphin", "CuriousDolphin123"} {
		if got := Avatar(name); got != "" {
			t.Errorf("expected no avatar for %q, got %q", name, got)
		}
	}
}

func TestParseWallTTL(t *testing.T) {
	cases := map[string]int{
		"":    DefaultWallTTL,
		"abc": DefaultWallTTL,
		"0":   0,
		"10":  10,
		"12":  10,
		"13":  15,
		"-5":  0,
		"600": MaxWallTTL,
	}
	for in, want := range cases {
		if got := ParseWallTTL(in); got != want {
			t.Errorf("ParseWallTTL(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestPublish(t *testing.T) {
	wall := NewWall(newTestStore(t, "posts"))
	ctx := context.Background()

	post, err := wall.Publish(ctx, "FunnyRobot23", "  hello wall  ")
	if err != nil {
		t.Fatal(err)
	}
	if post.Post != "hello wall" || post.Ref == "" || post.Avatar != "🤖" {
		t.Errorf("unexpected post %+v", post)
	}

	// 140 characters are fine, also when they are multi byte
	if _, err := wall.Publish(ctx, "FunnyRobot23", strings.Repeat("ü", MaxPostLength)); err != nil {
		t.Errorf("expected %d characters to be accepted, got %v", MaxPostLength, err)
	}

	for name, text := range map[string]string{
		"empty":    "",
		"blank":    " \n ",
		"too long": strings.Repeat("x", MaxPostLength+1),
	} {
		if _, err := wall.Publish(ctx, "FunnyRobot23", text); !store.IsValidationError(err) {
			t.Errorf("%s: expected a validation error, got %v", name, err)
		}
	}
	if _, err := wall.Publish(ctx, "", "hello"); !store.IsValidationError(err) {
		t.Errorf("expected a validation error without a user, got %v", err)
	}
}

func TestPostsAndStats(t *testing.T) {
	wall := NewWall(newTestStore(t, "posts"))
	ctx := context.Background()

	// empty walls have zero stats
	stats, err := wall.Stats(ctx, 0)
	if err != nil || stats != (Stats{}) {
		t.Errorf("expected empty stats, got %+v (%v)", stats, err)
	}

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	wall.now = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	for _, p := range []struct{ user, text string }{
		{"CuriousNinja11", "first"},
		{"PeacefulMoon20", "second"},
		{"CuriousNinja11", "third"},
	} {
		if _, err := wall.Publish(ctx, p.user, p.text); err != nil {
			t.Fatal(err)
		}
	}

	posts, err := wall.Posts(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 3 {
		t.Fatalf("expected 3 posts, got %v", posts)
	}
	if posts[0].Post != "third" || posts[2].Post != "first" {
		t.Errorf("expected the newest post first, got %v", posts)
	}
	if !posts[0].Timestamp.After(posts[1].Timestamp) {
		t.Errorf("expected descending timestamps, got %v", posts)
	}
	if posts[1].Avatar != "🌝" {
		t.Errorf("expected an avatar, got %q", posts[1].Avatar)
	}

	stats, err = wall.Stats(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Posts != 3 || stats.Users != 2 || stats.TotalChars != int64(len("first")+len("second")+len("third")) {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestWallTTL(t *testing.T) {
	wall := NewWall(newTestStore(t, "posts"))
	ctx := context.Background()

	if _, err := wall.Publish(ctx, "DumbGhost42", "one"); err != nil {
		t.Fatal(err)
	}
	if posts, _ := wall.Posts(ctx, time.Minute); len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}
	if _, err := wall.Publish(ctx, "DumbGhost42", "two"); err != nil {
		t.Fatal(err)
	}

	// the cached wall does not see the new post, a live read does
	if posts, _ := wall.Posts(ctx, time.Minute); len(posts) != 1 {
		t.Errorf("expected the cached wall, got %d posts", len(posts))
	}
	if posts, _ := wall.Posts(ctx, 0); len(posts) != 2 {
		t.Errorf("expected the live wall, got %d posts", len(posts))
	}
}
