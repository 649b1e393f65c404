// Package services – IssueService
//
// This file implements the IssueService, which handles the share side of the
// install gap: minting a long-lived signed share token on explicit user
// action, and persisting a short-lived attribution record when the redirect
// page reports that the installed-app open attempt failed. Record creation
// is a single insert of a fully populated row; reference and short code are
// generated (and collision-checked) before anything touches the store, so a
// failure never leaves a half-created record.
//
// Service-level errors (e.g., ErrContentNotFound) are returned for
// predictable cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-deeplink-backend/internal/domain"
	"github.com/tbourn/go-deeplink-backend/internal/netutil"
	"github.com/tbourn/go-deeplink-backend/internal/repo"
	"github.com/tbourn/go-deeplink-backend/internal/token"
)

// shortCodeAlphabet is the restricted alphabet for short codes: uppercase
// letters and digits, the characters most likely to survive store-level URL
// mangling intact.
const shortCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// shortCodeAttempts bounds collision-retry during issuance.
const shortCodeAttempts = 8

// IssueRepo defines the repository contract required by IssueService.
type IssueRepo interface {
	// CreateAttribution inserts a fully populated record in one statement.
	CreateAttribution(ctx context.Context, db *gorm.DB, rec *domain.AttributionRecord) error

	// ShortCodeInUse reports whether code is held by a live record.
	ShortCodeInUse(ctx context.Context, db *gorm.DB, code string, now time.Time) (bool, error)
}

// ContentLookup resolves a content identifier to its human-readable title.
// It abstracts the catalog so the engine never depends on how content is
// actually stored.
type ContentLookup interface {
	GetContentTitle(ctx context.Context, id string) (string, error)
}

// DeviceInfo is the client fingerprint captured when an attribution record
// is created. IP is normalized before storage so the IP-match resolution
// path can compare by plain equality.
type DeviceInfo struct {
	UserAgent     string
	IP            string
	InstallSource string
}

// ShareLinks is the result of issuing a share: the signed token plus the
// URLs the redirect page needs for its app-open attempt and web fallback.
type ShareLinks struct {
	Token       string
	DeepLinkURL string
	WebURL      string
}

// IssueService mints share tokens and creates attribution records.
type IssueService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the attribution repository used by this service.
	Repo IssueRepo
	// Contents resolves content titles at share time.
	Contents ContentLookup
	// Codec signs share tokens.
	Codec token.Codec

	// ShareTokenTTL is the share-token lifetime (long; spans the install gap).
	ShareTokenTTL time.Duration
	// AttributionTTL is the record lifetime from creation to hard expiry.
	AttributionTTL time.Duration
	// TitleMaxLen caps denormalized titles by rune length.
	TitleMaxLen int

	// DeepLinkScheme is the custom URL scheme of the installed app.
	DeepLinkScheme string
	// WebBaseURL is the public base of the redirect page.
	WebBaseURL string
	// StoreURLTemplate is the store URL with one %s verb receiving the
	// URL-escaped referrer value that embeds the record reference.
	StoreURLTemplate string
}

// IssueShareToken builds the share payload for (subjectID, contentID,
// optional auxiliaryID), signs it with the long share TTL, and returns the
// token together with the deep-link and web URLs for the redirect page.
// Signing has no side effects; nothing is persisted here.
func (s *IssueService) IssueShareToken(ctx context.Context, subjectID, contentID, auxiliaryID string) (ShareLinks, error) {
	subjectID = strings.TrimSpace(subjectID)
	contentID = strings.TrimSpace(contentID)
	if subjectID == "" || contentID == "" {
		return ShareLinks{}, ErrInvalidShare
	}

	title, err := s.lookupTitle(ctx, contentID)
	if err != nil {
		return ShareLinks{}, err
	}

	tok, err := s.Codec.Sign(token.Payload{
		SubjectID:   subjectID,
		ContentID:   contentID,
		Title:       title,
		AuxiliaryID: strings.TrimSpace(auxiliaryID),
	}, s.ShareTokenTTL)
	if err != nil {
		return ShareLinks{}, err
	}

	esc := url.QueryEscape(tok)
	return ShareLinks{
		Token:       tok,
		DeepLinkURL: fmt.Sprintf("%s://share?token=%s", s.DeepLinkScheme, esc),
		WebURL:      fmt.Sprintf("%s/s?token=%s", strings.TrimRight(s.WebBaseURL, "/"), esc),
	}, nil
}

// CreateAttribution verifies tok, re-checks that the referenced content
// still exists, and persists a fresh attribution record expiring
// AttributionTTL from now. It returns the persisted record and the store
// redirect URL embedding the record reference as the store referrer
// parameter.
//
// Reference and short code generation happen before the insert; on a
// short-code collision (pre-check or unique-index race) a new code is
// generated and the insert retried, bounded by shortCodeAttempts.
func (s *IssueService) CreateAttribution(ctx context.Context, tok string, dev DeviceInfo) (*domain.AttributionRecord, string, error) {
	p, err := s.Codec.Verify(tok)
	if err != nil {
		return nil, "", err
	}

	// The content may have been deleted between share and store redirect.
	title, err := s.lookupTitle(ctx, p.ContentID)
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	for i := 0; i < shortCodeAttempts; i++ {
		code, err := newShortCode()
		if err != nil {
			return nil, "", err
		}
		inUse, err := s.Repo.ShortCodeInUse(ctx, s.DB, code, now)
		if err != nil {
			return nil, "", storeErr(err)
		}
		if inUse {
			continue
		}

		rec := &domain.AttributionRecord{
			Reference:     uuid.NewString(),
			ShortCode:     code,
			ContentID:     p.ContentID,
			AuxiliaryID:   p.AuxiliaryID,
			PayloadHash:   token.Fingerprint(tok),
			Title:         title,
			SubjectID:     p.SubjectID,
			CreatedAt:     now,
			ExpiresAt:     now.Add(s.AttributionTTL),
			UserAgent:     dev.UserAgent,
			IP:            netutil.Normalize(dev.IP),
			InstallSource: dev.InstallSource,
		}

		switch err := s.Repo.CreateAttribution(ctx, s.DB, rec); {
		case err == nil:
			recordsCreated.Inc()
			return rec, s.StoreRedirectURL(rec.Reference), nil
		case errors.Is(err, repo.ErrDuplicate):
			// Lost a race on the short-code unique index; regenerate.
			continue
		default:
			return nil, "", storeErr(err)
		}
	}
	return nil, "", ErrShortCodeExhausted
}

// StoreRedirectURL renders the store URL carrying the record reference in
// the store referrer parameter. Exported so the HTTP layer can rebuild the
// original response on idempotent replays.
func (s *IssueService) StoreRedirectURL(reference string) string {
	return fmt.Sprintf(s.StoreURLTemplate, url.QueryEscape("ref="+reference))
}

// lookupTitle fetches and normalizes the content title, mapping a missing
// catalog row to ErrContentNotFound.
func (s *IssueService) lookupTitle(ctx context.Context, contentID string) (string, error) {
	title, err := s.Contents.GetContentTitle(ctx, contentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrContentNotFound
		}
		return "", storeErr(err)
	}
	return s.clip(normalizeTitle(title)), nil
}

// clip truncates a title to the configured maximum rune length.
func (s *IssueService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

// newShortCode draws a fixed-length code from the restricted alphabet using
// crypto/rand. Modulo bias is avoided by rejecting bytes past the largest
// multiple of the alphabet size.
func newShortCode() (string, error) {
	const n = 8
	limit := byte(256 - 256%len(shortCodeAlphabet))

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, shortCodeAlphabet[int(b)%len(shortCodeAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// normalizeTitle applies NFC normalization, trims whitespace, and collapses
// runs of whitespace to single spaces. Titles arrive from arbitrary CMS
// input and end up in URLs-adjacent UI, so they are canonicalized once here.
func normalizeTitle(s string) string {
	s = norm.NFC.String(s)
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
