package pipeline

// Observer receives every status mutation the orchestrator applies. Calls come
// from the orchestrator goroutine in order; implementations must not block
// for long.
type Observer interface {
	OnStatusChange(name string, status ContractStatus)
	OnPackageNameDiscovered(name, packageName string)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	StatusChange          func(name string, status ContractStatus)
	PackageNameDiscovered func(name, packageName string)
}

func (o ObserverFuncs) OnStatusChange(name string, status ContractStatus) {
	if o.StatusChange != nil {
		o.StatusChange(name, status)
	}
}

func (o ObserverFuncs) OnPackageNameDiscovered(name, packageName string) {
	if o.PackageNameDiscovered != nil {
		o.PackageNameDiscovered(name, packageName)
	}
}

type observers []Observer

func (o observers) OnStatusChange(name string, status ContractStatus) {
	for _, obs := range o {
		obs.OnStatusChange(name, status)
	}
}

func (o observers) OnPackageNameDiscovered(name, packageName string) {
	for _, obs := range o {
		obs.OnPackageNameDiscovered(name, packageName)
	}
}
