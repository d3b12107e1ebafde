package posting

import "go.uber.org/fx"

// Module provides the posting query service to Fx.
var Module = fx.Provide(NewService)
