package procedures

// Barista returns the built-in espresso procedure.
func Barista() Procedure {
	return Procedure{
		ID:         "builtin_espresso",
		Title:      "Espresso Making",
		Role:       "barista",
		SourceType: "builtin",
		Steps: []Step{
			{1, "Remove the portafilter from the group head", "Portafilter being twisted and removed from the espresso machine", "Forgetting to knock out old grounds first"},
			{2, "Knock out used coffee grounds from the portafilter", "Portafilter being tapped against knock box or bin", "Not fully emptying the basket"},
			{3, "Rinse the group head with a short flush of water", "Water running briefly from the group head", "Skipping this step, which can cause burnt taste"},
			{4, "Place the portafilter under the grinder and grind a fresh dose", "Portafilter positioned under grinder spout, grounds filling the basket", "Wrong grind size or over/under dosing; aim for about 18 grams"},
			{5, "Level and distribute the grounds evenly in the basket", "Finger or distribution tool sweeping across the basket surface", "Uneven distribution causes channeling during extraction"},
			{6, "Tamp the grounds firmly and evenly with the tamper", "Tamper pressing straight down on the grounds with steady pressure", "Tamping at an angle or with inconsistent pressure"},
			{7, "Insert the portafilter into the group head and lock it in", "Portafilter being twisted and secured into the group head", "Not locking fully, which causes leaks during extraction"},
			{8, "Place a cup under the spouts and start the extraction", "Cup positioned under portafilter, machine extraction button pressed", "Forgetting the cup or using the wrong cup size"},
			{9, "Watch the extraction and aim for a 25 to 30 second pull", "Espresso flowing in a steady, honey-like stream into the cup", "Too fast means under-extracted (sour), too slow means over-extracted (bitter)"},
			{10, "Stop the extraction and present the finished espresso", "Full espresso shot in the cup with a layer of golden crema on top", "Letting the shot run too long; stop when the stream turns pale and thin"},
		},
	}
}
