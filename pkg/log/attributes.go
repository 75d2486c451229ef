package log

// Model and operation context.
const (
	// ModelNameKey identifies the estimator type, e.g. "QN", "LogisticRegression".
	ModelNameKey = "model.name"

	// EstimatorIDKey identifies one estimator instance.
	EstimatorIDKey = "estimator.id"

	// OperationKey is the operation being performed: "fit", "predict", ...
	OperationKey = "ml.operation"

	// ComponentKey identifies the emitting package, e.g. "glm", "solver", "device".
	ComponentKey = "ml.component"

	// LossKey is the loss function in use: "logistic", "squared", "softmax".
	LossKey = "model.loss"
)

// Data shape.
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	ClassesKey  = "data.classes"
	OrderKey    = "data.order"
	// DataSizeKey is a buffer size in bytes.
	DataSizeKey = "data.size_bytes"
)

// Solver progress and results.
const (
	IterationKey   = "training.iteration"
	LossValueKey   = "metrics.loss"
	GradNormKey    = "metrics.grad_norm"
	StepKey        = "solver.step"
	ConvergedKey   = "solver.converged"
	SolverKey      = "solver.name"
	DurationMsKey  = "perf.duration_ms"
	AccuracyKey    = "metrics.accuracy"
	R2ScoreKey     = "metrics.r2_score"
	ParamCountKey  = "model.n_params"
	L1Key          = "hyperparams.l1"
	L2Key          = "hyperparams.l2"
	ToleranceKey   = "hyperparams.tol"
	MaxIterKey     = "hyperparams.max_iter"
	MemoryDepthKey = "hyperparams.lbfgs_memory"
)

// Errors.
const (
	ErrorCodeKey  = "error.code"
	ErrorTypeKey  = "error.type"
	StacktraceKey = "error.stacktrace"
)

// Standard attribute values.
const (
	OperationFit      = "fit"
	OperationPredict  = "predict"
	OperationDecision = "decision_function"
	OperationScore    = "score"

	ErrorPrecondition = "PRECONDITION"
	ErrorConvergence  = "CONVERGENCE_FAILURE"
	ErrorOutOfMemory  = "OUT_OF_MEMORY"
)
