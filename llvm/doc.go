// Package llvm is a small typed surface over LLVM-C built on package call.
//
// Each method runs one routine through the call adapter, so argument
// transfer, status conventions and result ownership follow the routine
// table. Objects the caller owns come back as *handle.Owning and must be
// released; objects owned by a parent, such as types, values and basic
// blocks, come back as handle.Alias.
//
//	l := llvm.New(call.New(lib))
//	c, err := l.ContextCreate(ctx)
//	if err != nil {
//		return err
//	}
//	defer c.Release(ctx)
//
//	m, err := l.CreateModule(ctx, "demo", c)
//	if err != nil {
//		return err
//	}
//	defer m.Release(ctx)
//
//	ir, err := l.PrintModuleToString(ctx, m)
//
// Strings produced natively are copied and released before a method returns
// unless the routine lends them, in which case the view is a window into
// native memory with the lifetime stated on the method.
package llvm
