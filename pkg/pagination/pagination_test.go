package pagination

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paramsFor(target string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		target string
		want   Params
	}{
		{"/", Params{Limit: DefaultLimit, Offset: 0}},
		{"/?limit=50&offset=10", Params{Limit: 50, Offset: 10}},
		{"/?limit=500", Params{Limit: MaxLimit, Offset: 0}},
		{"/?limit=-3&offset=-7", Params{Limit: DefaultLimit, Offset: 0}},
		{"/?limit=abc", Params{Limit: DefaultLimit, Offset: 0}},
		{"/?page=3&page_size=25", Params{Limit: 25, Offset: 50}},
		{"/?page=1&page_size=25", Params{Limit: 25, Offset: 0}},
		{"/?page=2&page_size=1000", Params{Limit: MaxLimit, Offset: MaxLimit}},
		{"/?limit=10&page=4&page_size=25", Params{Limit: 10, Offset: 0}},
		{"/?page=2&page_size=10&offset=3", Params{Limit: 10, Offset: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, paramsFor(tt.target))
		})
	}
}

func TestParams_Navigation(t *testing.T) {
	p := Params{Limit: 20, Offset: 30}
	assert.True(t, p.HasNext(51))
	assert.False(t, p.HasNext(50))
	assert.True(t, p.HasPrevious())
	assert.Equal(t, 50, p.NextOffset())
	assert.Equal(t, 10, p.PreviousOffset())

	first := Params{Limit: 20}
	assert.False(t, first.HasPrevious())
	assert.Equal(t, 0, first.PreviousOffset())
	assert.Equal(t, 0, Params{Limit: 20, Offset: 5}.PreviousOffset())
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a", "b"}, 10, 2, 0)
	assert.Equal(t, 10, r.Total)
	assert.True(t, r.HasMore)
	assert.Nil(t, r.Links)

	r = NewResponse([]string{"a"}, 3, 2, 2)
	assert.False(t, r.HasMore)
}

func TestResponse_WithLinks(t *testing.T) {
	u, err := url.Parse("/api/v1/patients?name=ay%C5%9Fe&page=2&page_size=10")
	require.NoError(t, err)

	r := NewResponse(nil, 45, 10, 10).WithLinks(u)
	require.NotNil(t, r.Links)
	assert.Equal(t, "/api/v1/patients?limit=10&name=ay%C5%9Fe&offset=20", r.Links.Next)
	assert.Equal(t, "/api/v1/patients?limit=10&name=ay%C5%9Fe&offset=0", r.Links.Previous)

	r = NewResponse(nil, 5, 10, 0).WithLinks(u)
	assert.Nil(t, r.Links, "single page has no links")
}
