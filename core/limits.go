package core

// LimitsConfig mirrors pkg/config.Config.Limits; kept separate from the
// config package so core has no dependency on viper (spec.md §4.5 "Limits").
type LimitsConfig struct {
	MaxCallDepth    int
	MaxSubstateSize int
	MaxEventSize    int
	MaxLogSize      int
}

func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		MaxCallDepth:    64,
		MaxSubstateSize: 1_000_000,
		MaxEventSize:    64_000,
		MaxLogSize:      64_000,
	}
}

// LimitsModule enforces the fixed resource ceilings of spec.md §4.5: call
// depth is checked by the kernel directly (Kernel.maxDepth); this module
// additionally offers substate payload, event and log size checks. The WASM
// host ABI checks guest substate writes and guest logs when they happen;
// native blueprint writes are not size-checked, and CheckEventSize has no
// caller.
type LimitsModule struct {
	cfg LimitsConfig
}

func NewLimitsModule(cfg LimitsConfig) *LimitsModule { return &LimitsModule{cfg: cfg} }

func (l *LimitsModule) CheckSubstateSize(value []byte) error {
	if len(value) > l.cfg.MaxSubstateSize {
		return ErrMaxSubstateSize()
	}
	return nil
}

func (l *LimitsModule) CheckEventSize(payload []byte) error {
	if len(payload) > l.cfg.MaxEventSize {
		return ErrMaxEventSize()
	}
	return nil
}

func (l *LimitsModule) CheckLogSize(msg []byte) error {
	if len(msg) > l.cfg.MaxLogSize {
		return ErrMaxLogSize()
	}
	return nil
}
