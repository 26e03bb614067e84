package translation

// TaskOptions tunes the recognition and translation pipeline for every role
type TaskOptions struct {
	ASRModel                string
	SilenceThreshold        float64
	SentenceSplitter        bool
	TranslatePartial        bool
	ExtraDetectableLanguage []string
	DesiredQueueLevelMs     int
	MaxQueueLevelMs         int
	AutoTempo               bool
	MinTempo                float64
	MaxTempo                float64
}

// DefaultTaskOptions returns the pipeline tuning used for phone calls
func DefaultTaskOptions() TaskOptions {
	return TaskOptions{
		ASRModel:            "auto",
		SilenceThreshold:    0.7,
		SentenceSplitter:    true,
		DesiredQueueLevelMs: 10000,
		MaxQueueLevelMs:     24000,
		AutoTempo:           true,
		MinTempo:            1.0,
		MaxTempo:            1.2,
	}
}

// TaskSettings is the set_task payload describing one role's pipeline
type TaskSettings struct {
	InputStream  StreamSettings `json:"input_stream"`
	OutputStream StreamSettings `json:"output_stream"`
	Pipeline     Pipeline       `json:"pipeline"`
	QueueConfigs QueueConfigs   `json:"translation_queue_configs"`
}

// StreamSettings describes an audio stream endpoint
type StreamSettings struct {
	ContentType string          `json:"content_type"`
	Source      *AudioTransport `json:"source,omitempty"`
	Target      *AudioTransport `json:"target,omitempty"`
}

// AudioTransport describes how audio is carried
type AudioTransport struct {
	Type       string `json:"type"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Pipeline configures recognition and translation
type Pipeline struct {
	Preprocessing struct{}           `json:"preprocessing"`
	Transcription TranscriptionStage `json:"transcription"`
	Translations  []TranslationStage `json:"translations"`
}

// TranscriptionStage configures speech recognition
type TranscriptionStage struct {
	SourceLanguage      string           `json:"source_language"`
	DetectableLanguages []string         `json:"detectable_languages"`
	ASRModel            string           `json:"asr_model"`
	SilenceThreshold    float64          `json:"segment_confirmation_silence_threshold"`
	SentenceSplitter    SentenceSplitter `json:"sentence_splitter"`
	Verification        Verification     `json:"verification"`
}

// SentenceSplitter toggles sentence segmentation
type SentenceSplitter struct {
	Enabled bool `json:"enabled"`
}

// Verification configures transcription correction
type Verification struct {
	AutoTranscriptionCorrection  bool    `json:"auto_transcription_correction"`
	TranscriptionCorrectionStyle *string `json:"transcription_correction_style"`
}

// TranslationStage configures one target language
type TranslationStage struct {
	TargetLanguage                 string `json:"target_language"`
	TranslatePartialTranscriptions bool   `json:"translate_partial_transcriptions"`
}

// QueueConfigs controls playback pacing of translated speech
type QueueConfigs struct {
	Global QueueConfig `json:"global"`
}

// QueueConfig controls one playback queue
type QueueConfig struct {
	DesiredQueueLevelMs int     `json:"desired_queue_level_ms"`
	MaxQueueLevelMs     int     `json:"max_queue_level_ms"`
	AutoTempo           bool    `json:"auto_tempo"`
	MinTempo            float64 `json:"min_tempo"`
	MaxTempo            float64 `json:"max_tempo"`
}

// NewTaskSettings builds the pipeline for a speaker of source whose speech
// is translated into target. Audio flows as 24 kHz mono PCM in both directions.
func NewTaskSettings(source, target string, opts TaskOptions) TaskSettings {
	pcm := &AudioTransport{Type: "ws", Format: "pcm_s16le", SampleRate: 24000, Channels: 1}

	detectable := []string{source, target}
	for _, lang := range opts.ExtraDetectableLanguage {
		if lang != source && lang != target {
			detectable = append(detectable, lang)
		}
	}

	return TaskSettings{
		InputStream:  StreamSettings{ContentType: "audio", Source: pcm},
		OutputStream: StreamSettings{ContentType: "audio", Target: pcm},
		Pipeline: Pipeline{
			Transcription: TranscriptionStage{
				SourceLanguage:      source,
				DetectableLanguages: detectable,
				ASRModel:            opts.ASRModel,
				SilenceThreshold:    opts.SilenceThreshold,
				SentenceSplitter:    SentenceSplitter{Enabled: opts.SentenceSplitter},
			},
			Translations: []TranslationStage{{
				TargetLanguage:                 target,
				TranslatePartialTranscriptions: opts.TranslatePartial,
			}},
		},
		QueueConfigs: QueueConfigs{Global: QueueConfig{
			DesiredQueueLevelMs: opts.DesiredQueueLevelMs,
			MaxQueueLevelMs:     opts.MaxQueueLevelMs,
			AutoTempo:           opts.AutoTempo,
			MinTempo:            opts.MinTempo,
			MaxTempo:            opts.MaxTempo,
		}},
	}
}
