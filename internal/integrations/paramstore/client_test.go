package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"

	"chat-widget/internal/config"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	in     *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.in = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func valueOutput(v string) *ssm.GetParameterOutput {
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: strPtr(v), Version: 3}}
}

var _ config.ParamGetter = (*Client)(nil)

func TestNew_RequiresAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: valueOutput(`{"assistant":"asst-1"}`)}
	client, err := New(api)
	require.NoError(t, err)

	v, err := client.GetParameter(context.Background(), "/widgets/w1")
	require.NoError(t, err)
	require.Equal(t, `{"assistant":"asst-1"}`, v)
	require.Equal(t, "/widgets/w1", *api.in.Name)
	require.True(t, *api.in.WithDecryption)
}

func TestGetParameter_Prefix(t *testing.T) {
	cases := []struct {
		name   string
		prefix string
		in     string
		want   string
	}{
		{name: "relative", prefix: "/widgets/prod", in: "w1", want: "/widgets/prod/w1"},
		{name: "trailing slash", prefix: "/widgets/prod/", in: "w1", want: "/widgets/prod/w1"},
		{name: "absolute wins", prefix: "/widgets/prod", in: "/other/w1", want: "/other/w1"},
		{name: "no prefix", prefix: "", in: "w1", want: "w1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{getOut: valueOutput("{}")}
			client, err := New(api, WithPrefix(tc.prefix))
			require.NoError(t, err)
			_, err = client.GetParameter(context.Background(), tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, *api.in.Name)
		})
	}
}

func TestGetParameter_WithoutDecryption(t *testing.T) {
	api := &fakeAPI{getOut: valueOutput("{}")}
	client, err := New(api, WithDecryption(false))
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.False(t, *api.in.WithDecryption)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_NotFound(t *testing.T) {
	api := &fakeAPI{getErr: &types.ParameterNotFound{Message: strPtr("nope")}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "required")
}

func TestApplyOverlayFromParameterStore(t *testing.T) {
	api := &fakeAPI{getOut: valueOutput(`{"assistant":"asst-9","lang":"fr","pollingInterval":2500}`)}
	client, err := New(api, WithPrefix("/widgets"))
	require.NoError(t, err)

	cfg := config.Default()
	require.NoError(t, config.ApplyParameter(context.Background(), client, "w1", &cfg))
	require.Equal(t, "asst-9", cfg.AssistantID)
	require.Equal(t, "fr", cfg.Language)
	require.Equal(t, "2.5s", cfg.PollingInterval.String())
	require.Equal(t, "/widgets/w1", *api.in.Name)
}
