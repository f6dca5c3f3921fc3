package twitterapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/onnwee/space-tender/space"
)

// tweetFeatures are the feature switches the web client sends with timeline queries.
var tweetFeatures = map[string]bool{
	"rweb_lists_timeline_redesign_enabled":                              true,
	"responsive_web_graphql_exclude_directive_enabled":                  true,
	"verified_phone_label_enabled":                                      false,
	"creator_subscriptions_tweet_preview_api_enabled":                   true,
	"responsive_web_graphql_timeline_navigation_enabled":                true,
	"responsive_web_graphql_skip_user_profile_image_extensions_enabled": false,
	"tweetypie_unmention_optimization_enabled":                          true,
	"responsive_web_edit_tweet_api_enabled":                             true,
	"graphql_is_translatable_rweb_tweet_is_translatable_enabled":        true,
	"view_counts_everywhere_api_enabled":                                true,
	"longform_notetweets_consumption_enabled":                           true,
	"tweet_awards_web_tipping_enabled":                                  false,
	"freedom_of_speech_not_reach_fetch_enabled":                         true,
	"standardized_nudges_misinfo":                                       true,
	"longform_notetweets_rich_text_read_enabled":                        true,
	"responsive_web_enhance_cards_enabled":                              false,
}

// UserTweets fetches the most recent timeline page of a user. The raw payload is returned so
// that a payload shape change degrades to "no candidates" in ExtractSpaceIDs instead of a
// transport error.
func (c *Client) UserTweets(ctx context.Context, userID string) (json.RawMessage, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID empty")
	}
	vars := map[string]any{
		"userId":                                 userID,
		"count":                                  20,
		"includePromotedContent":                 false,
		"withQuickPromoteEligibilityTweetFields": false,
		"withVoice":                              true,
		"withV2Timeline":                         true,
	}
	var raw json.RawMessage
	if err := c.graphQL(ctx, userTweetsPath, vars, tweetFeatures, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

type timelinePayload struct {
	Data struct {
		User struct {
			Result struct {
				Timeline struct {
					Timeline struct {
						Instructions []timelineInstruction `json:"instructions"`
					} `json:"timeline"`
				} `json:"timeline"`
			} `json:"result"`
		} `json:"user"`
	} `json:"data"`
}

type timelineInstruction struct {
	Type    string `json:"type"`
	Entries []struct {
		Content struct {
			EntryType   string `json:"entryType"`
			ItemContent struct {
				TweetResults struct {
					Result *tweetResult `json:"result"`
				} `json:"tweet_results"`
			} `json:"itemContent"`
		} `json:"content"`
	} `json:"entries"`
}

type tweetResult struct {
	Card *struct {
		Legacy struct {
			BindingValues []struct {
				Key   string `json:"key"`
				Value struct {
					StringValue string `json:"string_value"`
				} `json:"value"`
			} `json:"binding_values"`
		} `json:"legacy"`
	} `json:"card"`
	// Tweet is set when the result is wrapped in TweetWithVisibilityResults.
	Tweet *tweetResult `json:"tweet"`
}

// spaceID returns the card's "id" binding value, if the tweet carries a card.
func (t *tweetResult) spaceID() string {
	if t == nil {
		return ""
	}
	if t.Card == nil {
		return t.Tweet.spaceID()
	}
	for _, bv := range t.Card.Legacy.BindingValues {
		if bv.Key == "id" {
			return bv.Value.StringValue
		}
	}
	return ""
}

// ExtractSpaceIDs returns the distinct space ids referenced by room-card attachments in a
// UserTweets payload, in first-seen order. Only the TimelineAddEntries instruction and its
// TimelineTimelineItem entries are considered. A payload that does not decode returns an error
// and no ids; callers treat that as an empty observation.
func ExtractSpaceIDs(raw json.RawMessage) ([]string, error) {
	var p timelinePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode timeline: %w", err)
	}
	var ids []string
	seen := make(map[string]struct{})
	for _, ins := range p.Data.User.Result.Timeline.Timeline.Instructions {
		if ins.Type != "TimelineAddEntries" {
			continue
		}
		for _, e := range ins.Entries {
			if e.Content.EntryType != "TimelineTimelineItem" {
				continue
			}
			id := e.Content.ItemContent.TweetResults.Result.spaceID()
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		// only the first TimelineAddEntries instruction carries the user's tweets
		break
	}
	return ids, nil
}

// UserByScreenName resolves a handle to the user record (including the numeric rest id).
func (c *Client) UserByScreenName(ctx context.Context, screenName string) (*space.User, error) {
	if screenName == "" {
		return nil, fmt.Errorf("screen name empty")
	}
	vars := map[string]any{"screen_name": screenName, "withSafetyModeUserFields": true}
	feats := map[string]bool{
		"hidden_profile_likes_enabled":                                      false,
		"responsive_web_graphql_exclude_directive_enabled":                  true,
		"verified_phone_label_enabled":                                      false,
		"subscriptions_verification_info_verified_since_enabled":            true,
		"highlights_tweets_tab_ui_enabled":                                  true,
		"creator_subscriptions_tweet_preview_api_enabled":                   true,
		"responsive_web_graphql_skip_user_profile_image_extensions_enabled": false,
		"responsive_web_graphql_timeline_navigation_enabled":                true,
	}
	var body struct {
		Data struct {
			User struct {
				Result *userResult `json:"result"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := c.graphQL(ctx, userByScreenNamePath, vars, feats, &body); err != nil {
		return nil, err
	}
	u := body.Data.User.Result.user()
	if u == nil {
		return nil, fmt.Errorf("%s: %w", screenName, ErrUserNotFound)
	}
	return u, nil
}

// userResult is the GraphQL User object shared by user lookups and space payloads.
type userResult struct {
	RestID         string `json:"rest_id"`
	IsBlueVerified bool   `json:"is_blue_verified"`
	Legacy         struct {
		ScreenName       string `json:"screen_name"`
		Name             string `json:"name"`
		Protected        bool   `json:"protected"`
		Verified         bool   `json:"verified"`
		VerifiedType     string `json:"verified_type"`
		Location         string `json:"location"`
		Description      string `json:"description"`
		ProfileImageURL  string `json:"profile_image_url_https"`
		ProfileBannerURL string `json:"profile_banner_url"`
	} `json:"legacy"`
}

func (r *userResult) user() *space.User {
	if r == nil || r.RestID == "" {
		return nil
	}
	verifiedType := r.Legacy.VerifiedType
	if verifiedType == "" && r.IsBlueVerified {
		verifiedType = "Blue"
	}
	return &space.User{
		ID:               r.RestID,
		Username:         r.Legacy.ScreenName,
		Name:             r.Legacy.Name,
		Protected:        r.Legacy.Protected,
		Verified:         r.Legacy.Verified || r.IsBlueVerified,
		VerifiedType:     verifiedType,
		Location:         r.Legacy.Location,
		Description:      r.Legacy.Description,
		ProfileImageURL:  r.Legacy.ProfileImageURL,
		ProfileBannerURL: r.Legacy.ProfileBannerURL,
	}
}
