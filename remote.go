package prostlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// UploadTicket is a short-lived signed destination for one photo upload.
type UploadTicket struct {
	UploadURL string `json:"upload_url"`
	ObjectKey string `json:"object_key"`
}

// RemoteAPI is the backend surface the sync engine talks to. Implementations
// must be safe for concurrent use.
type RemoteAPI interface {
	ListFestivals(ctx context.Context) ([]Festival, error)
	ListTents(ctx context.Context) ([]Tent, error)
	ListTentPrices(ctx context.Context) ([]TentPrice, error)

	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpdateProfile(ctx context.Context, p Profile) error

	ListAttendances(ctx context.Context, userID string) ([]Attendance, error)
	CreateAttendance(ctx context.Context, a Attendance) error
	UpdateAttendance(ctx context.Context, a Attendance) error
	DeleteAttendance(ctx context.Context, id string) error

	CreateConsumption(ctx context.Context, c Consumption, idempotencyKey string) error
	DeleteConsumption(ctx context.Context, id string) error

	ListGroups(ctx context.Context, userID string) ([]Group, error)
	ListGroupMembers(ctx context.Context, userID string) ([]GroupMember, error)
	JoinGroup(ctx context.Context, m GroupMember) error
	LeaveGroup(ctx context.Context, groupID, userID string) error

	ListAchievements(ctx context.Context) ([]Achievement, error)
	ListUserAchievements(ctx context.Context, userID string) ([]UserAchievement, error)

	CreateUploadURL(ctx context.Context, pictureID, contentType string) (*UploadTicket, error)
	UploadObject(ctx context.Context, uploadURL, contentType string, body []byte) error
	ConfirmUpload(ctx context.Context, pictureID, objectKey string) (string, error)

	Health(ctx context.Context) error
}

// HTTPAPI implements RemoteAPI against the backend's REST surface.
type HTTPAPI struct {
	baseURL  string
	apiKey   string
	sourceID string
	client   *http.Client
	log      *DebugLogger
}

// NewHTTPAPI creates a remote API client. sourceID identifies this device
// installation to the backend.
func NewHTTPAPI(baseURL, apiKey, sourceID string, log *DebugLogger) *HTTPAPI {
	return &HTTPAPI{
		baseURL:  baseURL,
		apiKey:   apiKey,
		sourceID: sourceID,
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      log,
	}
}

func (a *HTTPAPI) ListFestivals(ctx context.Context) ([]Festival, error) {
	var out []Festival
	err := a.getJSON(ctx, "list festivals", "/festivals", nil, &out)
	return out, err
}

func (a *HTTPAPI) ListTents(ctx context.Context) ([]Tent, error) {
	var out []Tent
	err := a.getJSON(ctx, "list tents", "/tents", nil, &out)
	return out, err
}

func (a *HTTPAPI) ListTentPrices(ctx context.Context) ([]TentPrice, error) {
	var out []TentPrice
	err := a.getJSON(ctx, "list tent prices", "/tent-prices", nil, &out)
	return out, err
}

func (a *HTTPAPI) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var out Profile
	if err := a.getJSON(ctx, "get profile", "/profiles/"+url.PathEscape(userID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAPI) UpdateProfile(ctx context.Context, p Profile) error {
	return a.send(ctx, "update profile", http.MethodPut, "/profiles/"+url.PathEscape(p.ID), p, "")
}

func (a *HTTPAPI) ListAttendances(ctx context.Context, userID string) ([]Attendance, error) {
	var out []Attendance
	err := a.getJSON(ctx, "list attendances", "/attendances", url.Values{"user_id": {userID}}, &out)
	return out, err
}

func (a *HTTPAPI) CreateAttendance(ctx context.Context, att Attendance) error {
	return a.send(ctx, "create attendance", http.MethodPost, "/attendances", att, "")
}

func (a *HTTPAPI) UpdateAttendance(ctx context.Context, att Attendance) error {
	return a.send(ctx, "update attendance", http.MethodPut, "/attendances/"+url.PathEscape(att.ID), att, "")
}

func (a *HTTPAPI) DeleteAttendance(ctx context.Context, id string) error {
	return a.send(ctx, "delete attendance", http.MethodDelete, "/attendances/"+url.PathEscape(id), nil, "")
}

func (a *HTTPAPI) CreateConsumption(ctx context.Context, c Consumption, idempotencyKey string) error {
	return a.send(ctx, "create consumption", http.MethodPost, "/consumptions", c, idempotencyKey)
}

func (a *HTTPAPI) DeleteConsumption(ctx context.Context, id string) error {
	return a.send(ctx, "delete consumption", http.MethodDelete, "/consumptions/"+url.PathEscape(id), nil, "")
}

func (a *HTTPAPI) ListGroups(ctx context.Context, userID string) ([]Group, error) {
	var out []Group
	err := a.getJSON(ctx, "list groups", "/groups", url.Values{"user_id": {userID}}, &out)
	return out, err
}

func (a *HTTPAPI) ListGroupMembers(ctx context.Context, userID string) ([]GroupMember, error) {
	var out []GroupMember
	err := a.getJSON(ctx, "list group members", "/group-members", url.Values{"user_id": {userID}}, &out)
	return out, err
}

func (a *HTTPAPI) JoinGroup(ctx context.Context, m GroupMember) error {
	return a.send(ctx, "join group", http.MethodPost,
		"/groups/"+url.PathEscape(m.GroupID)+"/members", m, "")
}

func (a *HTTPAPI) LeaveGroup(ctx context.Context, groupID, userID string) error {
	return a.send(ctx, "leave group", http.MethodDelete,
		"/groups/"+url.PathEscape(groupID)+"/members/"+url.PathEscape(userID), nil, "")
}

func (a *HTTPAPI) ListAchievements(ctx context.Context) ([]Achievement, error) {
	var out []Achievement
	err := a.getJSON(ctx, "list achievements", "/achievements", nil, &out)
	return out, err
}

func (a *HTTPAPI) ListUserAchievements(ctx context.Context, userID string) ([]UserAchievement, error) {
	var out []UserAchievement
	err := a.getJSON(ctx, "list user achievements", "/user-achievements", url.Values{"user_id": {userID}}, &out)
	return out, err
}

func (a *HTTPAPI) CreateUploadURL(ctx context.Context, pictureID, contentType string) (*UploadTicket, error) {
	req := map[string]string{"picture_id": pictureID, "content_type": contentType}
	var ticket UploadTicket
	if err := a.postJSON(ctx, "create upload url", "/uploads", req, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// UploadObject PUTs the object body to a signed URL. The signed URL carries
// its own authorization, so no API headers are attached.
func (a *HTTPAPI) UploadObject(ctx context.Context, uploadURL, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(body))
	if err != nil {
		return &RemoteError{Op: "upload object", Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := a.client.Do(req)
	if err != nil {
		return &RemoteError{Op: "upload object", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RemoteError{Op: "upload object", StatusCode: resp.StatusCode,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}

func (a *HTTPAPI) ConfirmUpload(ctx context.Context, pictureID, objectKey string) (string, error) {
	req := map[string]string{"picture_id": pictureID, "object_key": objectKey}
	var resp struct {
		PictureURL string `json:"picture_url"`
	}
	if err := a.postJSON(ctx, "confirm upload", "/uploads/confirm", req, &resp); err != nil {
		return "", err
	}
	return resp.PictureURL, nil
}

func (a *HTTPAPI) Health(ctx context.Context) error {
	return a.send(ctx, "health", http.MethodGet, "/health", nil, "")
}

// getJSON issues a GET and decodes the JSON response into out.
func (a *HTTPAPI) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	u := a.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	return a.do(op, req, out)
}

// postJSON issues a POST with a JSON body and decodes the JSON response.
func (a *HTTPAPI) postJSON(ctx context.Context, op, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(op, req, out)
}

// send issues a request whose response body is discarded. A non-empty
// idempotencyKey is forwarded so the server can collapse replays.
func (a *HTTPAPI) send(ctx context.Context, op, method, path string, body any, idempotencyKey string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &RemoteError{Op: op, Err: err}
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return a.do(op, req, nil)
}

func (a *HTTPAPI) do(op string, req *http.Request, out any) error {
	req.Header.Set("User-Agent", "prostlog/"+Version)
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	if a.sourceID != "" {
		req.Header.Set("X-Source-ID", a.sourceID)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		a.log.LogError(op, err)
		return &RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		rerr := &RemoteError{Op: op, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("%s", firstLine(msg))}
		a.log.LogError(op, rerr)
		return rerr
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RemoteError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func firstLine(b []byte) string {
	for i, c := range b {
		if c == '\n' || c == '\r' {
			b = b[:i]
			break
		}
	}
	if len(b) == 0 {
		return "request failed"
	}
	return string(b)
}
