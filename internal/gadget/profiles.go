package gadget

import "sort"

// Profile lists the controllers commonly found on a family of devices.
type Profile struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	UDCCandidates []string `json:"udc_candidates"`
}

var profiles = map[string]Profile{
	"generic":          {"generic", "Generic ConfigFS", []string{"musb-hdrc", "dummy_udc", "android_usb"}},
	"android_system":   {"android_system", "Android System", []string{"android_usb", "xhci-hcd"}},
	"pixel_gki":        {"pixel_gki", "Pixel GKI", []string{"a600000.dwc3"}},
	"samsung_exynos":   {"samsung_exynos", "Samsung Exynos", []string{"exynos-udc", "s3c-hsotg"}},
	"qualcomm_qti":     {"qualcomm_qti", "Qualcomm QTI", []string{"70000000.dwc3", "a800000.dwc3", "xhci-hcd"}},
	"mediatek_generic": {"mediatek_generic", "MediaTek", []string{"11200000.usb", "musb-hdrc", "mtu3"}},
}

// LookupProfile returns the profile with the given id.
func LookupProfile(id string) (Profile, bool) {
	p, ok := profiles[id]
	return p, ok
}

// Profiles returns all known profiles sorted by id.
func Profiles() []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
