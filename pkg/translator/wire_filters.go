package translator

import (
	"fmt"
	"time"

	xdstype "github.com/cncf/xds/go/xds/type/v3"
	routerv3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/router/v3"
	hcmv3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/http_connection_manager/v3"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/flowplane/flowplane/pkg/model"
)

const defaultConnectTimeout = 5 * time.Second

func secToDuration(seconds uint32) time.Duration {
	if seconds == 0 {
		return time.Second
	}
	return time.Duration(seconds) * time.Second
}

// routerFilterName is appended to every listener's HTTP filter chain; the
// router filter terminates the filter chain by dispatching to the route
// action, matching what every real HCM filter chain ends with.
const routerFilterName = "envoy.filters.http.router"

func routerFilter() *hcmv3.HttpFilter {
	return &hcmv3.HttpFilter{
		Name:       routerFilterName,
		ConfigType: &hcmv3.HttpFilter_TypedConfig{TypedConfig: mustAny(&routerv3.Router{})},
	}
}

// buildHttpFilter translates one declarative HttpFilter into its wire
// HCM filter entry. Config is carried generically as a structpb.Struct
// (we don't hand-roll a Go struct per third-party filter type — that
// would mean growing this switch for every Envoy extension Flowplane
// might ever expose); the filter's Type selects which well-known Envoy
// extension name it's attached to.
func buildHttpFilter(f *model.HttpFilter) (*hcmv3.HttpFilter, error) {
	extensionName, err := filterExtensionName(f.Type)
	if err != nil {
		return nil, err
	}
	cfg, err := structpb.NewStruct(f.Config)
	if err != nil {
		return nil, fmt.Errorf("filter config is not representable as a protobuf struct: %w", err)
	}
	// WASM filters additionally require a binary reference; the generic
	// structpb config is expected to already carry the vm_config fields
	// the caller set (e.g. "code.remote.http_uri"), we just ensure the
	// reference was supplied.
	if f.Type == model.FilterTypeWASM && f.WasmRef == "" {
		return nil, fmt.Errorf("wasm filter %q has no binary reference", f.Name)
	}
	return &hcmv3.HttpFilter{
		Name: extensionName,
		ConfigType: &hcmv3.HttpFilter_TypedConfig{TypedConfig: mustAny(&xdstype.TypedStruct{
			TypeUrl: "type.googleapis.com/" + extensionName + ".v3.Config",
			Value:   cfg,
		})},
	}, nil
}

func filterExtensionName(t model.FilterType) (string, error) {
	switch t {
	case model.FilterTypeRouter:
		return routerFilterName, nil
	case model.FilterTypeRateLimit:
		return "envoy.filters.http.ratelimit", nil
	case model.FilterTypeCORS:
		return "envoy.filters.http.cors", nil
	case model.FilterTypeJWTAuthn:
		return "envoy.filters.http.jwt_authn", nil
	case model.FilterTypeWASM:
		return "envoy.filters.http.wasm", nil
	case model.FilterTypeLocalReplyOverride:
		return "envoy.filters.http.local_error", nil
	default:
		return "", fmt.Errorf("unsupported http filter type %q", t)
	}
}
