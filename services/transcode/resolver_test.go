package transcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airstream/config"
	"airstream/models"
)

func intp(v int) *int { return &v }

func testSettings(t *testing.T) config.TranscodeSettings {
	return config.TranscodeSettings{
		Directory:          fakeTranscodeDir(t, "ffmpeg", "lame"),
		DownsampleCommand:  "lame -b %b %s -",
		HLSCommand:         "ffmpeg -ss %o -i %s -b:v %bk -s %wx%h -f hls -hls_segment_filename %n %p",
		SplitCommand:       "ffmpeg -ss %o -t %d -i %s -c copy -f %f -",
		TimePaddingSeconds: 2,
		BytePadding:        30000,
	}
}

func mp3Media() models.MediaRef {
	return models.MediaRef{
		ID:              "m1",
		Path:            "music/song.mp3",
		Format:          "mp3",
		DurationSeconds: intp(240),
		BitRate:         intp(320),
		FileSizeBytes:   9600000,
	}
}

func mkvMedia() models.MediaRef {
	return models.MediaRef{
		ID:              "v1",
		Path:            "movies/film.mkv",
		Format:          "mkv",
		Video:           true,
		DurationSeconds: intp(5400),
		BitRate:         intp(8000),
		Width:           intp(1920),
		Height:          intp(1080),
		FileSizeBytes:   5_400_000_000,
	}
}

func TestDefaultHLSCommandWritesSegmentFiles(t *testing.T) {
	settings := config.DefaultSettings().Transcode
	settings.Directory = fakeTranscodeDir(t, "ffmpeg")

	r := NewResolver(settings)
	media := mkvMedia()
	resolved := r.Resolve(Request{Media: media, MaxBitRateOverride: 1200, Segmented: true})
	require.True(t, resolved.Active())

	pattern := "/tmp/hls/abc123/segment%d.ts"
	vars := CommandVars(media, models.VideoSettings{
		Width:           768,
		Height:          432,
		AudioTrackIndex: -1,
		SegmentFilename: pattern,
	}, resolved.MaxBitRate, "/music/movies/film.mkv")

	argv, err := Render(resolved.Rule.Step1, vars, settings.Directory)
	require.NoError(t, err)

	// The shipped command must hand the segment filename pattern to the
	// encoder; a template writing one stream to stdout produces no files
	// for the session to serve.
	filenameFlag := -1
	for i, arg := range argv {
		if arg == "-hls_segment_filename" {
			filenameFlag = i
		}
	}
	require.True(t, filenameFlag >= 0 && filenameFlag+1 < len(argv),
		"default command carries no -hls_segment_filename: %v", argv)
	assert.Equal(t, pattern, argv[filenameFlag+1])
	assert.Contains(t, argv, "hls")
}

func TestResolveRawPassthrough(t *testing.T) {
	r := NewResolver(testSettings(t))

	resolved := r.Resolve(Request{
		Media:           mp3Media(),
		PreferredFormat: "raw",
		Rules: []models.Transcoding{
			{Name: "mp3 audio", SourceFormats: "mp3 flac", TargetFormat: "mp3", Step1: "ffmpeg -i %s -f mp3 -"},
		},
	})

	assert.False(t, resolved.Active())
	assert.True(t, resolved.RangeSeekable)
	require.True(t, resolved.LengthKnown)
	assert.Equal(t, int64(9600000), resolved.EstimatedLength)
}

func TestResolveSegmentingBeatsRaw(t *testing.T) {
	r := NewResolver(testSettings(t))

	resolved := r.Resolve(Request{
		Media:           mkvMedia(),
		PreferredFormat: "raw",
		Segmented:       true,
	})

	require.True(t, resolved.Active())
	assert.True(t, resolved.Synthesized)
	assert.Equal(t, "ts", resolved.Rule.TargetFormat)
}

func TestResolvePrefersRuleTargetingPreferredFormat(t *testing.T) {
	r := NewResolver(testSettings(t))

	rules := []models.Transcoding{
		{Name: "to mp3", SourceFormats: "flac", TargetFormat: "mp3", Step1: "ffmpeg -i %s -f mp3 -"},
		{Name: "to ogg", SourceFormats: "flac", TargetFormat: "ogg", Step1: "ffmpeg -i %s -f ogg -"},
	}
	media := mp3Media()
	media.Format = "flac"

	resolved := r.Resolve(Request{Media: media, Rules: rules, PreferredFormat: "ogg"})

	require.True(t, resolved.Active())
	assert.Equal(t, "to ogg", resolved.Rule.Name)
}

func TestResolveSkipsRulesWithMissingExecutable(t *testing.T) {
	r := NewResolver(testSettings(t))

	rules := []models.Transcoding{
		{Name: "broken", SourceFormats: "flac", TargetFormat: "mp3", Step1: "missing-encoder -i %s -"},
		{Name: "working", SourceFormats: "flac", TargetFormat: "mp3", Step1: "ffmpeg -i %s -f mp3 -"},
	}
	media := mp3Media()
	media.Format = "flac"

	resolved := r.Resolve(Request{Media: media, Rules: rules})

	require.True(t, resolved.Active())
	assert.Equal(t, "working", resolved.Rule.Name)
}

func TestResolveFallsBackToPassthroughWhenNothingRunnable(t *testing.T) {
	r := NewResolver(testSettings(t))

	media := mp3Media()
	media.Format = "flac"
	resolved := r.Resolve(Request{
		Media: media,
		Rules: []models.Transcoding{
			{Name: "broken", SourceFormats: "flac", TargetFormat: "mp3", Step1: "missing-encoder -i %s -"},
		},
	})

	assert.False(t, resolved.Active())
	assert.True(t, resolved.RangeSeekable)
}

func TestResolveSynthesizesDownsample(t *testing.T) {
	r := NewResolver(testSettings(t))

	resolved := r.Resolve(Request{
		Media:              mp3Media(), // 320 kbps
		MaxBitRateOverride: 128,
	})

	require.True(t, resolved.Active())
	assert.True(t, resolved.Synthesized)
	assert.Equal(t, "downsample", resolved.Rule.Name)
	assert.Equal(t, 128, resolved.MaxBitRate)
}

func TestResolveNoDownsampleBelowCap(t *testing.T) {
	r := NewResolver(testSettings(t))

	media := mp3Media()
	media.BitRate = intp(96)
	resolved := r.Resolve(Request{Media: media, MaxBitRateOverride: 128})

	assert.False(t, resolved.Active())
}

func TestResolveNoDownsampleForNonMp3(t *testing.T) {
	r := NewResolver(testSettings(t))

	media := mp3Media()
	media.Format = "flac"
	resolved := r.Resolve(Request{Media: media, MaxBitRateOverride: 128})

	assert.False(t, resolved.Active())
}

func TestResolveSynthesizesSplitForIndexedTrack(t *testing.T) {
	r := NewResolver(testSettings(t))

	media := mp3Media()
	media.IndexedTrack = true
	media.StartOffsetSeconds = 125

	resolved := r.Resolve(Request{Media: media})

	require.True(t, resolved.Active())
	assert.Equal(t, "split", resolved.Rule.Name)
	assert.Equal(t, media.Format, resolved.Rule.TargetFormat)
}

func TestEffectiveMaxBitRate(t *testing.T) {
	r := NewResolver(testSettings(t))

	cases := []struct {
		name     string
		player   int
		user     int
		override int
		want     int
	}{
		{"override wins", 128, 64, 192, 192},
		{"stricter of player and user", 128, 64, 0, 64},
		{"player only", 128, 0, 0, 128},
		{"user only", 0, 96, 0, 96},
		{"both off", 0, 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resolved := r.Resolve(Request{
				Media:              mp3Media(),
				Player:             models.Player{SchemeKbps: tc.player},
				UserSchemeKbps:     tc.user,
				MaxBitRateOverride: tc.override,
				PreferredFormat:    "raw",
			})
			assert.Equal(t, tc.want, resolved.MaxBitRate)
		})
	}
}

func TestEstimatedLengthForTranscode(t *testing.T) {
	r := NewResolver(testSettings(t))

	resolved := r.Resolve(Request{
		Media:              mp3Media(), // 240s
		MaxBitRateOverride: 128,
	})

	require.True(t, resolved.LengthKnown)
	// (240 + 2) * 128 * 1000/8 + 30000
	assert.Equal(t, int64(242*128*125+30000), resolved.EstimatedLength)
}

func TestRangeSeekableFalseWhenLengthUnknown(t *testing.T) {
	r := NewResolver(testSettings(t))

	media := mp3Media()
	media.DurationSeconds = nil
	resolved := r.Resolve(Request{Media: media, MaxBitRateOverride: 128})

	require.True(t, resolved.Active())
	assert.False(t, resolved.LengthKnown)
	assert.False(t, resolved.RangeSeekable)
}

func TestRangeSeekableRequiresBitratePlaceholderInLastStep(t *testing.T) {
	settings := testSettings(t)
	settings.DownsampleCommand = "lame --preset standard %s -" // no %b
	r := NewResolver(settings)

	resolved := r.Resolve(Request{Media: mp3Media(), MaxBitRateOverride: 128})

	require.True(t, resolved.Active())
	assert.True(t, resolved.LengthKnown)
	assert.False(t, resolved.RangeSeekable)

	r = NewResolver(testSettings(t)) // default command carries %b
	resolved = r.Resolve(Request{Media: mp3Media(), MaxBitRateOverride: 128})
	assert.True(t, resolved.RangeSeekable)
}
