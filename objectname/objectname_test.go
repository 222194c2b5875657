package objectname

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const zeroUploadID = "00000000000000000000000000000000"

var uploadIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestSign_KnownVector(t *testing.T) {
	// sha256("k" + "b" + "user42/00000000000000000000000000000000-.mp4")
	const wantHash = "b237269de1df614100050881ba942bdb6aab99455ed49917c89c07c01e1086a6"

	got, err := Sign(SignParams{
		UploaderID: "user42",
		SigningKey: "k",
		Extension:  "mp4",
		Bucket:     "b",
		UploadID:   zeroUploadID,
	})
	require.NoError(t, err)
	assert.Equal(t, "user42/"+zeroUploadID+"-"+wantHash+".mp4", got)
}

func TestSign_Defaults(t *testing.T) {
	withDefaults, err := Sign(SignParams{UploaderID: "user42", SigningKey: "k", UploadID: zeroUploadID})
	require.NoError(t, err)

	explicit, err := Sign(SignParams{
		UploaderID: "user42",
		SigningKey: "k",
		Extension:  DefaultExtension,
		Bucket:     DefaultBucket,
		UploadID:   zeroUploadID,
	})
	require.NoError(t, err)

	assert.Equal(t, explicit, withDefaults)
	assert.Regexp(t, `\.mp4$`, withDefaults)
}

func TestSign_Deterministic(t *testing.T) {
	p := SignParams{
		UploaderID: "alice",
		SigningKey: "secret",
		Extension:  "mov",
		Bucket:     "pbv-uploads",
		UploadID:   "0123456789abcdef0123456789abcdef",
	}

	first, err := Sign(p)
	require.NoError(t, err)
	second, err := Sign(p)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "alice/0123456789abcdef0123456789abcdef-36ec89c31fdb7384a548cc6178d1799aa0491a3f8f2a23360287f58d46d18c2e.mov", first)
}

func TestSign_EachInputChangesHash(t *testing.T) {
	base := SignParams{
		UploaderID: "alice",
		SigningKey: "secret",
		Extension:  "mp4",
		Bucket:     "bucket",
		UploadID:   "0123456789abcdef0123456789abcdef",
	}

	tests := []struct {
		name   string
		modify func(p *SignParams)
	}{
		{name: "signing key", modify: func(p *SignParams) { p.SigningKey = "secret2" }},
		{name: "bucket", modify: func(p *SignParams) { p.Bucket = "bucket2" }},
		{name: "uploader id", modify: func(p *SignParams) { p.UploaderID = "bob" }},
		{name: "upload id", modify: func(p *SignParams) { p.UploadID = "fedcba9876543210fedcba9876543210" }},
		{name: "extension", modify: func(p *SignParams) { p.Extension = "mov" }},
	}

	baseName, err := Sign(base)
	require.NoError(t, err)
	baseParsed, err := Parse(baseName)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.modify(&p)

			name, err := Sign(p)
			require.NoError(t, err)
			parsed, err := Parse(name)
			require.NoError(t, err)

			assert.NotEqual(t, baseParsed.Hash, parsed.Hash)
		})
	}
}

func TestSign_GeneratesUploadID(t *testing.T) {
	first, err := Sign(SignParams{UploaderID: "alice", SigningKey: "secret"})
	require.NoError(t, err)
	second, err := Sign(SignParams{UploaderID: "alice", SigningKey: "secret"})
	require.NoError(t, err)

	firstParsed, err := Parse(first)
	require.NoError(t, err)
	secondParsed, err := Parse(second)
	require.NoError(t, err)

	assert.Regexp(t, uploadIDPattern, firstParsed.UploadID)
	assert.Regexp(t, uploadIDPattern, secondParsed.UploadID)
	assert.NotEqual(t, firstParsed.UploadID, secondParsed.UploadID)
}

func TestNewUploadID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id, err := NewUploadID()
		require.NoError(t, err)
		require.Regexp(t, uploadIDPattern, id)
		require.False(t, seen[id], "duplicate upload id %s", id)
		seen[id] = true
	}
}

func TestSign_InvalidArguments(t *testing.T) {
	tests := []struct {
		name   string
		params SignParams
	}{
		{name: "empty uploader id", params: SignParams{SigningKey: "k"}},
		{name: "uploader id with separator", params: SignParams{UploaderID: "a/b", SigningKey: "k"}},
		{name: "empty signing key", params: SignParams{UploaderID: "user42"}},
		{name: "short upload id", params: SignParams{UploaderID: "user42", SigningKey: "k", UploadID: "abc"}},
		{name: "uppercase upload id", params: SignParams{UploaderID: "user42", SigningKey: "k", UploadID: "0123456789ABCDEF0123456789ABCDEF"}},
		{name: "upload id with hyphens", params: SignParams{UploaderID: "user42", SigningKey: "k", UploadID: "01234567-89ab-cdef-0123-456789abcdef"}},
		{name: "extension with separator", params: SignParams{UploaderID: "user42", SigningKey: "k", Extension: "x/mp4", UploadID: zeroUploadID}},
		{name: "extension is a path", params: SignParams{UploaderID: "user42", SigningKey: "k", Extension: "/mp4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sign(tt.params)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidArgument), "got %v", err)
		})
	}
}

func TestSign_OutputVerifies(t *testing.T) {
	tests := []struct {
		name      string
		extension string
		wantExt   string
	}{
		{name: "default", extension: "", wantExt: "mp4"},
		{name: "plain", extension: "mov", wantExt: "mov"},
		{name: "leading dot", extension: ".mp4", wantExt: "mp4"},
		{name: "dotted", extension: "tar.gz", wantExt: "tar.gz"},
		{name: "uppercase", extension: "MOV", wantExt: "MOV"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, err := Sign(SignParams{UploaderID: "user42", SigningKey: "k", Extension: tt.extension, Bucket: "b"})
			require.NoError(t, err)

			parsed, err := Parse(name)
			require.NoError(t, err)
			assert.Equal(t, tt.wantExt, parsed.Extension)
			assert.NotContains(t, name, "..")
			assert.NoError(t, Verify(name, "k", "b"))
		})
	}
}

func TestSign_LeadingDotMatchesPlainExtension(t *testing.T) {
	withDot, err := Sign(SignParams{UploaderID: "user42", SigningKey: "k", Extension: ".mp4", UploadID: zeroUploadID})
	require.NoError(t, err)
	plain, err := Sign(SignParams{UploaderID: "user42", SigningKey: "k", Extension: "mp4", UploadID: zeroUploadID})
	require.NoError(t, err)

	assert.Equal(t, plain, withDot)
}

func TestVerify(t *testing.T) {
	name, err := Sign(SignParams{UploaderID: "alice", SigningKey: "secret", Bucket: "pbv-uploads"})
	require.NoError(t, err)

	assert.NoError(t, Verify(name, "secret", "pbv-uploads"))
	assert.ErrorIs(t, Verify(name, "other-secret", "pbv-uploads"), ErrSignatureMismatch)
	assert.ErrorIs(t, Verify(name, "secret", "other-bucket"), ErrSignatureMismatch)
	assert.ErrorIs(t, Verify(name, "", "pbv-uploads"), ErrInvalidArgument)

	parsed, err := Parse(name)
	require.NoError(t, err)
	parsed.Extension = "mov"
	assert.ErrorIs(t, Verify(parsed.String(), "secret", "pbv-uploads"), ErrSignatureMismatch)
}

func TestVerify_DefaultBucket(t *testing.T) {
	name, err := Sign(SignParams{UploaderID: "alice", SigningKey: "secret"})
	require.NoError(t, err)

	assert.NoError(t, Verify(name, "secret", ""))
}

func TestVerify_DottedExtension(t *testing.T) {
	name, err := Sign(SignParams{UploaderID: "alice", SigningKey: "secret", Extension: "tar.gz"})
	require.NoError(t, err)

	parsed, err := Parse(name)
	require.NoError(t, err)
	assert.Equal(t, "tar.gz", parsed.Extension)
	assert.NoError(t, Verify(name, "secret", ""))
}

func TestParse(t *testing.T) {
	hash := "b237269de1df614100050881ba942bdb6aab99455ed49917c89c07c01e1086a6"

	tests := []struct {
		name    string
		input   string
		want    Name
		wantErr bool
	}{
		{
			name:  "valid",
			input: "user42/" + zeroUploadID + "-" + hash + ".mp4",
			want:  Name{UploaderID: "user42", UploadID: zeroUploadID, Hash: hash, Extension: "mp4"},
		},
		{name: "no separator", input: zeroUploadID + "-" + hash + ".mp4", wantErr: true},
		{name: "nested path", input: "a/b/" + zeroUploadID + "-" + hash + ".mp4", wantErr: true},
		{name: "no extension", input: "user42/" + zeroUploadID + "-" + hash, wantErr: true},
		{name: "empty hash", input: "user42/" + zeroUploadID + "-.mp4", wantErr: true},
		{name: "short upload id", input: "user42/0000-" + hash + ".mp4", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}
