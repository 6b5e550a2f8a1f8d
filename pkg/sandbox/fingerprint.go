package sandbox

import "math/rand"

// FingerprintConfig is the hardware/identity shape a profile presents.
// Values are randomized per profile but drawn from realistic desktop
// hardware so the browser never looks synthetic.
type FingerprintConfig struct {
	Canvas       string   `json:"canvas"`        // "1" adds per-profile canvas noise
	WebGLImage   string   `json:"webgl_image"`   // "1" adds webgl image noise
	WebGLVendor  string   `json:"webgl_vendor"`
	WebGLRender  string   `json:"webgl_render"`
	CPUCores     int      `json:"hardware_concurrency,string"`
	DeviceMemory int      `json:"device_memory,string"`
	UserAgent    string   `json:"ua"`
	Timezone     string   `json:"timezone"`
	Languages    []string `json:"language"`
	WebDriver    string   `json:"webdriver"`  // "0" disables the webdriver flag
	Automation   string   `json:"automation"` // "0" hides automation switches
}

// pinnedUserAgent is a current desktop Chrome string. Pinned rather than
// randomized: a plausible-but-rare UA is a stronger fingerprint signal than
// a common one.
const pinnedUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// webglPairs are real vendor/renderer combinations seen on desktop hardware.
var webglPairs = [][2]string{
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) Iris(R) Xe Graphics Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 6600 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
}

var cpuCoreOptions = []int{4, 6, 8, 12, 16}
var memoryOptions = []int{8, 16, 32}

// NewFingerprint builds a randomized but realistic fingerprint for one
// profile. Locale fixes timezone and language so every profile in a batch
// looks local to the configured region.
func NewFingerprint(timezone string, languages []string) *FingerprintConfig {
	if timezone == "" {
		timezone = "Asia/Shanghai"
	}
	if len(languages) == 0 {
		languages = []string{"zh-CN", "zh", "en-US", "en"}
	}
	pair := webglPairs[rand.Intn(len(webglPairs))]
	return &FingerprintConfig{
		Canvas:       "1",
		WebGLImage:   "1",
		WebGLVendor:  pair[0],
		WebGLRender:  pair[1],
		CPUCores:     cpuCoreOptions[rand.Intn(len(cpuCoreOptions))],
		DeviceMemory: memoryOptions[rand.Intn(len(memoryOptions))],
		UserAgent:    pinnedUserAgent,
		Timezone:     timezone,
		Languages:    languages,
		WebDriver:    "0",
		Automation:   "0",
	}
}
