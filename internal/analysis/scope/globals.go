// internal/analysis/scope/globals.go
package scope

type hostGlobal struct {
	name string
	host HostType
}

// hostGlobals are pre-bound in every file scope.
var hostGlobals = []hostGlobal{
	// Browser handles that reach the DOM or navigation state.
	{"window", HostDOM},
	{"self", HostDOM},
	{"top", HostDOM},
	{"parent", HostDOM},
	{"frames", HostDOM},
	{"globalThis", HostDOM},
	{"document", HostDOM},
	{"location", HostDOM},
	{"history", HostDOM},
	{"navigator", HostDOM},
	{"screen", HostDOM},
	{"opener", HostDOM},
	{"name", HostDOM},

	// Client-side storage.
	{"localStorage", HostStorage},
	{"sessionStorage", HostStorage},
	{"indexedDB", HostStorage},
	{"caches", HostStorage},

	// Everything else is an opaque host object.
	{"console", HostObject},
	{"JSON", HostObject},
	{"Math", HostObject},
	{"Reflect", HostObject},
	{"Object", HostObject},
	{"Function", HostObject},
	{"Array", HostObject},
	{"String", HostObject},
	{"Number", HostObject},
	{"Boolean", HostObject},
	{"Symbol", HostObject},
	{"BigInt", HostObject},
	{"Date", HostObject},
	{"RegExp", HostObject},
	{"Error", HostObject},
	{"TypeError", HostObject},
	{"Promise", HostObject},
	{"Proxy", HostObject},
	{"Map", HostObject},
	{"Set", HostObject},
	{"WeakMap", HostObject},
	{"WeakSet", HostObject},
	{"ArrayBuffer", HostObject},
	{"Uint8Array", HostObject},
	{"URL", HostObject},
	{"URLSearchParams", HostObject},
	{"FormData", HostObject},
	{"Blob", HostObject},
	{"FileReader", HostObject},
	{"Image", HostObject},
	{"Event", HostObject},
	{"CustomEvent", HostObject},
	{"MessageChannel", HostObject},
	{"MutationObserver", HostObject},
	{"XMLHttpRequest", HostObject},
	{"WebSocket", HostObject},
	{"Worker", HostObject},
	{"fetch", HostObject},
	{"eval", HostObject},
	{"alert", HostObject},
	{"confirm", HostObject},
	{"prompt", HostObject},
	{"postMessage", HostObject},
	{"addEventListener", HostObject},
	{"removeEventListener", HostObject},
	{"dispatchEvent", HostObject},
	{"setTimeout", HostObject},
	{"setInterval", HostObject},
	{"clearTimeout", HostObject},
	{"clearInterval", HostObject},
	{"requestAnimationFrame", HostObject},
	{"queueMicrotask", HostObject},
	{"encodeURIComponent", HostObject},
	{"decodeURIComponent", HostObject},
	{"encodeURI", HostObject},
	{"decodeURI", HostObject},
	{"escape", HostObject},
	{"unescape", HostObject},
	{"atob", HostObject},
	{"btoa", HostObject},
	{"parseInt", HostObject},
	{"parseFloat", HostObject},
	{"isNaN", HostObject},
	{"isFinite", HostObject},
	{"undefined", HostObject},
	{"NaN", HostObject},
	{"Infinity", HostObject},
}
