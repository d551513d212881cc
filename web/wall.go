package web

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/oklog/ulid/v2"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	// MaxPostLength is the maximum number of characters of a post
	MaxPostLength = 140
	// WallSize is the number of posts shown on the wall
	WallSize = 500

	// Refresh TTL bounds of the wall in seconds
	DefaultWallTTL = 10
	MaxWallTTL     = 60
	WallTTLStep    = 5
)

var (
	adjectives = []string{"Handsome", "Curious", "Peaceful", "Dumb", "Ugly", "Hysterical", "Funny"}
	names      = []string{"Dolphin", "Ninja", "Dragon", "Robot", "Ghost", "Clown", "Moon", "Pizza"}

	// avatars are keyed by the first two letters of the name
	avatars = map[string]string{
		"Do": "🐬",
		"Ni": "🥷",
		"Dr": "🐲",
		"Ro": "🤖",
		"Gh": "👻",
		"Cl": "🤡",
		"Mo": "🌝",
		"Pi": "🍕",
	}
	usernamePattern = regexp.MustCompile(`^[A-Z][a-z]+([A-Z][a-z])[a-z]+\d{2}$`)
)

// NewUsername returns a random <Adjective><Name><10-99> user name
func NewUsername() string {
	return fmt.Sprintf("%s%s%d", adjectives[rand.IntN(len(adjectives))], names[rand.IntN(len(names))], 10+rand.IntN(90))
}

// Avatar returns the emoji of the name part of username, "" if there is none
func Avatar(username string) string {
	m := usernamePattern.FindStringSubmatch(username)
	if m == nil {
		return ""
	}
	return avatars[m[1]]
}

// ParseWallTTL parses the refresh interval of the wall in seconds. Values are
// clamped to [0, MaxWallTTL] and rounded to WallTTLStep, invalid values give
// DefaultWallTTL.
func ParseWallTTL(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return DefaultWallTTL
	}
	n = min(max(n, 0), MaxWallTTL)
	return (n + WallTTLStep/2) / WallTTLStep * WallTTLStep
}

// --------------------------------------------------------------------------
// Wall
// --------------------------------------------------------------------------

// Post is a single message on the wall
type Post struct {
	Ref       string    `bson:"ref" json:"ref"`
	User      string    `bson:"user" json:"user"`
	Post      string    `bson:"post" json:"post"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	Avatar    string    `bson:"-" json:"avatar,omitempty"`
}

// Stats summarizes the wall
type Stats struct {
	Posts      int64 `json:"posts"`
	Users      int   `json:"users"`
	TotalChars int64 `json:"total_chars"`
}

// Wall stores posts in a collection. Reads are cached for the TTL given by
// the caller, so new posts show up after at most that long.
type Wall struct {
	store store.IStore
	now   func() time.Time
}

// NewWall creates a wall on top of s
func NewWall(s store.IStore) *Wall {
	return &Wall{store: s, now: time.Now}
}

// Publish validates and stores a post of user
func (w *Wall) Publish(ctx context.Context, user, text string) (Post, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Post{}, store.NewError(store.RetCValidationError, "a post must not be empty")
	}
	if n := utf8.RuneCountInString(text); n > MaxPostLength {
		return Post{}, store.NewError(store.RetCValidationError, fmt.Sprintf("a post has at most %d characters, got %d", MaxPostLength, n))
	}
	if user == "" {
		return Post{}, store.NewError(store.RetCValidationError, "a post needs a user")
	}

	post := Post{
		Ref:       ulid.Make().String(),
		User:      user,
		Post:      text,
		Timestamp: w.now().UTC().Truncate(time.Millisecond),
	}
	if _, err := w.store.Insert(ctx, bson.M{
		"ref":       post.Ref,
		"user":      post.User,
		"post":      post.Post,
		"timestamp": post.Timestamp,
	}); err != nil {
		return Post{}, err
	}
	post.Avatar = Avatar(user)
	return post, nil
}

// Posts returns the latest WallSize posts, newest first
func (w *Wall) Posts(ctx context.Context, ttl time.Duration) ([]Post, error) {
	docs, err := w.store.Find(ctx, nil,
		store.WithSort(bson.D{{Key: "timestamp", Value: -1}}),
		store.WithLimit(WallSize),
		store.WithTTL(ttl),
	)
	if err != nil {
		return nil, err
	}

	posts := make([]Post, 0, len(docs))
	for _, doc := range docs {
		raw, err := bson.Marshal(doc)
		if err != nil {
			return nil, err
		}
		var post Post
		if err := bson.Unmarshal(raw, &post); err != nil {
			return nil, fmt.Errorf("invalid post %v: %w", doc, err)
		}
		post.Avatar = Avatar(post.User)
		posts = append(posts, post)
	}
	return posts, nil
}

// Stats counts posts, distinct users and the characters of all posts
func (w *Wall) Stats(ctx context.Context, ttl time.Duration) (Stats, error) {
	cached := store.WithTTL(ttl)

	count, err := w.store.Count(ctx, nil, cached)
	if err != nil {
		return Stats{}, err
	}
	users, err := w.store.Distinct(ctx, "user", nil, cached)
	if err != nil {
		return Stats{}, err
	}
	chars, err := w.store.Aggregate(ctx, store.Pipeline{
		{"$addFields": bson.M{"length": bson.M{"$strLenCP": "$post"}}},
		{"$group": bson.M{"_id": nil, "total": bson.M{"$sum": "$length"}}},
	}, cached)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Posts: count, Users: len(users)}
	if len(chars) > 0 {
		stats.TotalChars = toInt64(chars[0]["total"])
	}
	return stats, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
