package utils

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHead struct {
	objects map[string]bool
	err     error
	keys    []string
}

func (f *fakeHead) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.keys = append(f.keys, *in.Key)
	if f.err != nil {
		return nil, f.err
	}
	if !f.objects[*in.Key] {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestClipExists(t *testing.T) {
	ctx := context.Background()
	fake := &fakeHead{objects: map[string]bool{"clips/kickflip.mp4": true}}
	clips := NewClipStore(fake, "battle-clips")

	ok, err := clips.ClipExists(ctx, "clips/kickflip.mp4")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = clips.ClipExists(ctx, "https://acct.r2.cloudflarestorage.com/battle-clips/clips/kickflip.mp4")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = clips.ClipExists(ctx, "https://cdn.example.com/clips/kickflip.mp4")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = clips.ClipExists(ctx, "clips/heelflip.mp4")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = clips.ClipExists(ctx, "../secrets")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{"clips/kickflip.mp4", "clips/kickflip.mp4", "clips/kickflip.mp4", "clips/heelflip.mp4"}, fake.keys)
}

func TestClipExistsErrors(t *testing.T) {
	ctx := context.Background()

	missing := NewClipStore(&fakeHead{err: &smithy.GenericAPIError{Code: "NoSuchKey"}}, "b")
	ok, err := missing.ClipExists(ctx, "clips/a.mp4")
	require.NoError(t, err)
	assert.False(t, ok)

	down := NewClipStore(&fakeHead{err: errors.New("connection reset")}, "b")
	_, err = down.ClipExists(ctx, "clips/a.mp4")
	assert.ErrorContains(t, err, "connection reset")
}
