package provider

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ehr/ehrlogin/internal/platform/openmrs"
)

// providerView asks only for what the resolver reads.
const providerView = "custom:(uuid,display,person:(uuid,display),attributes:(uuid,voided,attributeType:(uuid,display),value))"

type restRepo struct {
	client *openmrs.Client
}

func NewRESTRepo(client *openmrs.Client) Repository {
	return &restRepo{client: client}
}

func (r *restRepo) FindByUser(ctx context.Context, userUUID string) ([]*Provider, error) {
	var page struct {
		Results []*Provider `json:"results"`
	}
	err := r.client.Do(ctx, openmrs.Request{
		Method: http.MethodGet,
		Path:   "provider",
		Query:  url.Values{"user": {userUUID}, "v": {providerView}},
	}, &page)
	if err != nil {
		return nil, err
	}
	return page.Results, nil
}

func (r *restRepo) CreateAttribute(ctx context.Context, providerUUID, attributeTypeUUID, value string) (string, error) {
	var created Attribute
	err := r.client.Do(ctx, openmrs.Request{
		Method: http.MethodPost,
		Path:   "provider/" + url.PathEscape(providerUUID) + "/attribute",
		Body: map[string]string{
			"attributeType": attributeTypeUUID,
			"value":         value,
		},
	}, &created)
	if err != nil {
		return "", err
	}
	return created.UUID, nil
}

func (r *restRepo) UpdateAttribute(ctx context.Context, providerUUID, attributeUUID, value string) (string, error) {
	var updated Attribute
	err := r.client.Do(ctx, openmrs.Request{
		Method: http.MethodPost,
		Path:   "provider/" + url.PathEscape(providerUUID) + "/attribute/" + url.PathEscape(attributeUUID),
		Body:   map[string]string{"value": value},
	}, &updated)
	if err != nil {
		return "", err
	}
	if updated.UUID == "" {
		return attributeUUID, nil
	}
	return updated.UUID, nil
}
