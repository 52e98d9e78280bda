// Package handle provides ownership-tagged handles to native objects.
//
// Every native pointer that crosses the boundary as an object reference is
// either Owning or an Alias:
//
//	Owning[K] - one release obligation, discharged by Release
//	Alias[K]  - borrowed reference, no release operation exists
//
// The kind K is a zero-size type parameter, fixed for the life of the
// handle:
//
//	mod, err := handle.NewOwning[handle.Module](raw, releaser)
//	fn := handle.AliasOf[handle.Value](rawFn)
//
// # Misuse Detection
//
// Owning handles keep an atomic state word. A second Release, or a Release
// after IntoAlias, returns an errors.KindDoubleRelease or
// errors.KindAliasRelease error without calling the disposer. Raw fails
// once the handle no longer owns its object.
//
// # Ledger
//
// A Ledger tracks live owning handles for one adapter and notifies
// observers of creation, release, aliasing and misuse. Close reports
// handles that were never released.
//
//	ledger := handle.NewLedger()
//	mod, _ := handle.NewOwning[handle.Module](raw, releaser, handle.Tracked(ledger))
//	defer ledger.Close()
package handle
