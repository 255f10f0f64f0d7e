package config

const (
	defaultWorkDir   = "~/.local/share/tadeval"
	defaultLogDir    = "~/.local/share/tadeval/logs"
	defaultAPIBind   = "127.0.0.1:7490"
	defaultLogFormat = "console"
	defaultLogLevel  = "info"
	resultFileName   = "result_detection.json"
	outputsDirName   = "outputs"
	gatherSocketName = "gather.sock"

	DatasetSlidingWindow = "sliding_window"
	DatasetPadding       = "padding"

	EvaluatorSummary = "summary"
	EvaluatorNone    = "none"

	DetectorRawPredictions = "raw_predictions"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		NMS: NMS{
			UseSoftNMS:   true,
			Sigma:        0.7,
			IoUThreshold: 0.1,
			MinScore:     0.001,
			MaxSegNum:    2000,
			Multiclass:   true,
			VotingThresh: 0.7,
		},
		PostProcessing: PostProcessing{
			SaveDict:     false,
			PreNMSThresh: 0.001,
			PreNMSTopK:   2000,
		},
		Inference: Inference{
			LoadFromRawPredictions: true,
			ReclaimInterval:        10,
			BatchSize:              1,
		},
		Dataset: Dataset{
			Kind:          DatasetSlidingWindow,
			Subset:        "validation",
			WindowSize:    768,
			WindowStride:  576,
			FeatureStride: 4,
			SampleStride:  1,
		},
		Evaluation: Evaluation{
			Evaluator: EvaluatorSummary,
			Detector:  DetectorRawPredictions,
		},
		Distributed: Distributed{
			WorldSize: 1,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: 30,
		},
	}
}
