// Package media turns outbound media into provider-fetchable URLs and archives inbound media.
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"
	"github.com/vincent-petithory/dataurl"

	"smsrelay/internal/apperr"
	"smsrelay/internal/models"
	"smsrelay/pkg/httputil"
)

// Options configures an Archiver.
type Options struct {
	// Store receives uploads. Nil disables data URL media and inbound archival.
	Store         ObjectStore
	MaxImageWidth int
	// Credentials used to download inbound media from the provider.
	DownloadUser     string
	DownloadPassword string
	DownloadTimeout  time.Duration
}

// Archiver prepares outbound media and copies inbound media to the object store.
type Archiver struct {
	store    ObjectStore
	maxWidth int
	client   *resty.Client
	now      func() time.Time
}

func NewArchiver(opts Options) *Archiver {
	client := httputil.NewRestyClient("", opts.DownloadTimeout)
	if opts.DownloadUser != "" {
		client.SetBasicAuth(opts.DownloadUser, opts.DownloadPassword)
	}
	return &Archiver{
		store:    opts.Store,
		maxWidth: opts.MaxImageWidth,
		client:   client,
		now:      time.Now,
	}
}

// Enabled reports whether an object store is configured.
func (a *Archiver) Enabled() bool { return a != nil && a.store != nil }

// PrepareOutbound resolves media references for a send. http(s) URLs pass through; data URLs
// are decoded, downscaled if they are wide images, and uploaded. It returns the URLs to hand
// to the provider and the content-type keyed map stored on the message.
func (a *Archiver) PrepareOutbound(ctx context.Context, userID, to string, refs []string) ([]string, models.MediaMap, error) {
	if len(refs) == 0 {
		return nil, nil, nil
	}
	urls := make([]string, 0, len(refs))
	kinds := make(models.MediaMap, len(refs))

	for i, ref := range refs {
		ref = strings.TrimSpace(ref)
		if strings.HasPrefix(ref, "data:") {
			u, contentType, err := a.uploadDataURL(ctx, userID, to, ref)
			if err != nil {
				return nil, nil, err
			}
			urls = append(urls, u)
			putKind(kinds, contentType, u)
			continue
		}

		parsed, err := url.Parse(ref)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return nil, nil, apperr.InvalidFields([]apperr.FieldError{
				{Field: fmt.Sprintf("media[%d]", i), Message: "must be an http(s) URL or a data URL"},
			})
		}
		contentType := mime.TypeByExtension(path.Ext(parsed.Path))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		urls = append(urls, ref)
		putKind(kinds, contentType, ref)
	}
	return urls, kinds, nil
}

func (a *Archiver) uploadDataURL(ctx context.Context, userID, to, ref string) (string, string, error) {
	if !a.Enabled() {
		return "", "", apperr.InvalidRequest("data URL media requires S3 media storage to be enabled")
	}
	du, err := dataurl.DecodeString(ref)
	if err != nil {
		return "", "", apperr.Wrap(apperr.KindInvalidRequest, err, "could not decode data URL")
	}
	contentType := du.ContentType()
	data := du.Data
	if strings.HasPrefix(contentType, "image/") {
		if data, contentType, err = a.downscale(data, contentType); err != nil {
			return "", "", apperr.Wrap(apperr.KindInvalidRequest, err, "could not process image")
		}
	}

	key := ObjectKey(userID, to, uuid.NewString(), contentType, false, a.now().UTC())
	u, err := a.store.Put(ctx, key, data, contentType)
	if err != nil {
		return "", "", err
	}
	return u, contentType, nil
}

// downscale shrinks JPEG and PNG images wider than the configured maximum, keeping the
// aspect ratio. Other formats are returned untouched.
func (a *Archiver) downscale(data []byte, contentType string) ([]byte, string, error) {
	if a.maxWidth <= 0 || (contentType != "image/jpeg" && contentType != "image/png") {
		return data, contentType, nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= a.maxWidth {
		return data, contentType, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	resized := resize.Resize(uint(a.maxWidth), 0, img, resize.Lanczos3)

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, resized)
	default:
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85})
		contentType = "image/jpeg"
	}
	if err != nil {
		return nil, "", fmt.Errorf("encode image: %w", err)
	}

	log.Debug().
		Int("originalWidth", cfg.Width).
		Int("width", a.maxWidth).
		Int("originalSize", len(data)).
		Int("size", buf.Len()).
		Msg("Downscaled outbound image")
	return buf.Bytes(), contentType, nil
}

// ArchiveInbound copies each inbound media object into the object store and returns a map
// pointing at the copies. Objects that fail to copy keep their provider URL.
func (a *Archiver) ArchiveInbound(ctx context.Context, msg *models.Message) models.MediaMap {
	if !a.Enabled() || len(msg.Media) == 0 {
		return msg.Media
	}
	userID := ""
	if msg.UserID != nil {
		userID = *msg.UserID
	}
	from := ""
	if msg.From != nil {
		from = *msg.From
	}
	// msg is not stored yet, so the provider id is the only one to log
	resourceID := ""
	if msg.ResourceID != nil {
		resourceID = *msg.ResourceID
	}

	out := make(models.MediaMap, len(msg.Media))
	for kind, src := range msg.Media {
		out[kind] = src
		resp, err := a.client.R().SetContext(ctx).Get(src)
		if err != nil || resp.IsError() {
			log.Warn().Err(err).Str("resourceID", resourceID).Str("url", src).Msg("Could not download inbound media, keeping provider URL")
			continue
		}
		contentType := contentTypeOf(kind, resp.Header().Get("Content-Type"))
		key := ObjectKey(userID, from, uuid.NewString(), contentType, true, a.now().UTC())
		u, err := a.store.Put(ctx, key, resp.Body(), contentType)
		if err != nil {
			log.Warn().Err(err).Str("resourceID", resourceID).Str("key", key).Msg("Could not archive inbound media, keeping provider URL")
			continue
		}
		out[kind] = u
	}
	return out
}

func contentTypeOf(kind, header string) string {
	if i := strings.IndexByte(kind, '#'); i >= 0 {
		kind = kind[:i]
	}
	if strings.Contains(kind, "/") {
		return kind
	}
	if header != "" {
		if mt, _, err := mime.ParseMediaType(header); err == nil {
			return mt
		}
	}
	return "application/octet-stream"
}

// putKind stores u under contentType, suffixing "#n" when the type repeats.
func putKind(m models.MediaMap, contentType, u string) {
	key := contentType
	for n := 1; ; n++ {
		if _, taken := m[key]; !taken {
			break
		}
		key = fmt.Sprintf("%s#%d", contentType, n)
	}
	m[key] = u
}
