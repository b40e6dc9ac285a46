package dispatch

// RegisterAllTools registers every built-in tool against reg. Split per
// subsystem (RegisterCacheTools, RegisterPurgeTools, RegisterCertTools,
// RegisterTenancyTools) so cmd/gateway can opt out of a subsystem by
// calling them individually instead.
func RegisterAllTools(reg *Registry) {
	RegisterTenancyTools(reg)
	RegisterCacheTools(reg)
	RegisterPurgeTools(reg)
	RegisterCertTools(reg)
}
