package testctl

// Indirection layer to allow stubbing in tests

var (
	fnInstallGoLlama = installGoLlama

	fnRunGoTests    = runGoTests
	fnRunE2ETests   = runE2ETests
	fnRunLlamaTests = runLlamaTests
	fnRunVerify     = runVerify

	fnServeMock = serveMock
)
