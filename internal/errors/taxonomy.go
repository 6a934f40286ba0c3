package errors

// 意图编译流水线各阶段的错误码。各层在失败时归入其中一类,
// 调用方据此决定是提示用户、重试还是告警。
const (
	// CodeInputError 表示用户输入本身无法处理。
	CodeInputError Code = "INPUT_ERROR"
	// CodeResolutionFailed 表示意图无法匹配到任何模板。
	CodeResolutionFailed Code = "RESOLUTION_FAILED"
	// CodeParameterUnresolved 表示模板参数缺失且无法自动补全。
	CodeParameterUnresolved Code = "PARAMETER_UNRESOLVED"
	// CodeResourceUnavailable 表示链上或外部数据源暂时不可用。
	CodeResourceUnavailable Code = "RESOURCE_UNAVAILABLE"
	// CodeSecurityRejected 表示脚本未通过静态安全校验。
	CodeSecurityRejected Code = "SECURITY_REJECTED"
	// CodeExecutionFailed 表示交易构建或链上执行失败。
	CodeExecutionFailed Code = "EXECUTION_FAILED"
	// CodeSubmissionFailed 表示交易提交阶段失败。
	CodeSubmissionFailed Code = "SUBMISSION_FAILED"
)

func init() {
	Register(CodeInputError, Attributes{
		Message:   "unable to process the request",
		Severity:  SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	Register(CodeResolutionFailed, Attributes{
		Message:   "no matching operation for the request",
		Severity:  SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	Register(CodeParameterUnresolved, Attributes{
		Message:   "required parameters are missing",
		Severity:  SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	Register(CodeResourceUnavailable, Attributes{
		Message:   "upstream resource unavailable",
		Severity:  SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	Register(CodeSecurityRejected, Attributes{
		Message:   "transaction rejected by security policy",
		Severity:  SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	Register(CodeExecutionFailed, Attributes{
		Message:   "transaction execution failed",
		Severity:  SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	Register(CodeSubmissionFailed, Attributes{
		Message:   "transaction submission failed",
		Severity:  SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}
