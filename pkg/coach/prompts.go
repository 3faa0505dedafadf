package coach

import (
	"fmt"
	"strings"
)

const identifySystemPrompt = `You are a vision coach that recognizes objects and writes short, practical instructions for them.

Look at the image and name the main object, product or piece of equipment in view.
Then write 4 to 8 clear steps for using or operating it.

Reply with ONLY one JSON object shaped exactly like this:
{
  "object": "name of the object",
  "steps": [
    {
      "action": "short action instruction",
      "look_for": "visual cue that confirms this step"
    }
  ]
}

Rules:
- Keep each action short and concrete (for example "Pull the tab on top of the can")
- Refer to physical features that are visible (buttons, handles, labels)
- Each look_for must describe a state the camera can see
- Order the steps from start to finish
- If the image is too dark or blurry, reply {"object": "unknown", "steps": []}
- No markdown and no extra text, only the JSON object`

const identifyUserMessage = "Identify this object and generate usage steps."

const progressUserMessage = "What do you see? Which step has been completed? Respond with JSON only."

func progressSystemPrompt(steps []Step, current int) string {
	var list strings.Builder
	for i, st := range steps {
		state := "TODO"
		if st.Completed {
			state = "DONE"
		}
		if i > 0 {
			list.WriteByte('\n')
		}
		fmt.Fprintf(&list, "%d. [%s] ACTION: %s | LOOK FOR: %s", i+1, state, st.Action, st.LookFor)
	}

	var action, lookFor string
	if current >= 0 && current < len(steps) {
		action = steps[current].Action
		lookFor = steps[current].LookFor
	}

	return fmt.Sprintf(`You are a vision coach tracking a user's progress through a checklist.

Current checklist:
%s

The user should be working on step %d: "%s"
Visual cue for this step: "%s"

Study the camera frame. Describe what the user is doing or what state the object is in, then decide which step they have reached.

Reply with ONLY one JSON object in this exact shape:
{"observation": "brief description of what you see", "completed_step": N, "object_visible": true}

Where:
- N is the highest step number that looks done (3 means steps 1 to 3 are complete)
- N is 0 if no TODO step has visibly been started or finished
- object_visible is false when the target object is no longer clearly in view

Rules:
- Only judge the checklist steps and ignore the rest of the scene
- Be generous: if the object is in the state a step describes, count that step as done
- Judge the object's physical state, not the user's hands
- If the angle changed or a different object is in view, return 0 and never reset
- No markdown and no extra text, only the JSON object`, list.String(), current+1, action, lookFor)
}
