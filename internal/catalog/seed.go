package catalog

// seedParams is the process-wide visual-parameter catalog seed data. It
// names the handful of ids the pipeline treats specially (the body-size
// inputs and the skin color ids) explicitly, then pads out to PublishedCount group-0 entries plus a
// scattering of non-published (group != 0) entries with driver/alpha
// metadata, matching the real catalog's shape: mostly plain shape sliders,
// a few color/alpha-driving entries, a few driven-but-unpublished entries.
var seedParams = buildSeedParams()

func buildSeedParams() []Param {
	params := make([]Param, 0, 230)

	// Named params the pipeline's math and Stage A logic reference directly.
	named := []Param{
		{ID: 33, Group: 0, Min: 0, Max: 1, Default: 0.5},   // leg length
		{ID: 198, Group: 0, Min: 0, Max: 1, Default: 0.5},  // hip width
		{ID: 503, Group: 0, Min: 0, Max: 1, Default: 0.5},  // torso length
		{ID: 682, Group: 0, Min: 0, Max: 1, Default: 0.5},  // neck length
		{ID: 692, Group: 0, Min: 0, Max: 1, Default: 0.5},  // height
		{ID: 756, Group: 0, Min: 0, Max: 1, Default: 0.5},  // shoulders
		{ID: 842, Group: 0, Min: 0, Max: 1, Default: 0.5},  // head size
		{ID: 108, Group: 0, Min: 0, Max: 1, Default: 0.5, Color: &ColorDescriptor{Channel: "skin_red"}},
		{ID: 110, Group: 0, Min: 0, Max: 1, Default: 0.5, Color: &ColorDescriptor{Channel: "skin_green"}},
		{ID: 111, Group: 0, Min: 0, Max: 1, Default: 0.5, Color: &ColorDescriptor{Channel: "skin_blue"}},
	}
	params = append(params, named...)
	used := make(map[int]bool, len(named))
	for _, p := range named {
		used[p.ID] = true
	}

	// A handful of alpha-driven entries: a driver param with a non-bump
	// alpha descriptor carrying a non-empty tga filename, and a param that
	// lists it as a driver.
	alphaDriver := Param{ID: 1000, Group: 1, Min: 0, Max: 1, Default: 0, Alpha: &AlphaDescriptor{TGAFile: "tattoo_upper_alpha.tga"}}
	params = append(params, alphaDriver)
	used[alphaDriver.ID] = true

	driven := Param{ID: 1001, Group: 0, Min: 0, Max: 1, Default: 0, Drivers: []int{alphaDriver.ID}}
	params = append(params, driven)
	used[driven.ID] = true

	bumpDriver := Param{ID: 1002, Group: 1, Min: 0, Max: 1, Default: 0, Alpha: &AlphaDescriptor{TGAFile: "bump_alpha.tga"}, IsBump: true}
	params = append(params, bumpDriver)
	used[bumpDriver.ID] = true

	// Pad with plain group-0 shape sliders until PublishedCount is reached.
	nextID := 2000
	for groupZeroCount(params) < PublishedCount {
		for used[nextID] {
			nextID++
		}
		params = append(params, Param{ID: nextID, Group: 0, Min: 0, Max: 1, Default: 0.5})
		used[nextID] = true
		nextID++
	}

	// A small scattering of non-published (group != 0) entries for realism
	// (internal-only sliders, wearable-driven but not transmitted).
	for i := 0; i < 12; i++ {
		for used[nextID] {
			nextID++
		}
		params = append(params, Param{ID: nextID, Group: 2, Min: -1, Max: 1, Default: 0})
		used[nextID] = true
		nextID++
	}

	return params
}

func groupZeroCount(params []Param) int {
	n := 0
	for _, p := range params {
		if p.Group == 0 {
			n++
		}
	}
	return n
}
