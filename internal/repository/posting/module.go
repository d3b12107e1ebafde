package posting

import "go.uber.org/fx"

// Module provides the posting repository to Fx.
var Module = fx.Provide(NewRepository)
