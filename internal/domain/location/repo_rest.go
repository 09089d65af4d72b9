package location

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ehr/ehrlogin/internal/platform/openmrs"
)

type restDirectory struct {
	client *openmrs.Client
}

// NewRESTDirectory reads locations through the backend REST API.
func NewRESTDirectory(client *openmrs.Client) Directory {
	return &restDirectory{client: client}
}

func (d *restDirectory) Get(ctx context.Context, uuid string) (*Location, error) {
	var loc Location
	err := d.client.Do(ctx, openmrs.Request{
		Method: http.MethodGet,
		Path:   "location/" + url.PathEscape(uuid),
		Query:  url.Values{"v": {"full"}},
	}, &loc)
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

func (d *restDirectory) ListByTag(ctx context.Context, tagUUID string) ([]*Location, error) {
	var page struct {
		Results []*Location `json:"results"`
	}
	err := d.client.Do(ctx, openmrs.Request{
		Method: http.MethodGet,
		Path:   "location",
		Query:  url.Values{"tag": {tagUUID}, "v": {"full"}},
	}, &page)
	if err != nil {
		return nil, err
	}
	return page.Results, nil
}
