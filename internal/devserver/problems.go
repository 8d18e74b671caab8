package devserver

import (
	"math/rand"

	"github.com/codeduel/client/pkg/protocol"
)

// builtinProblems is the relay's stand-in problem bank. Real problem
// generation and grading belong to the production backend.
var builtinProblems = []protocol.Problem{
	{
		Name:              "Two Sum",
		Description:       "Given a list of integers and a target, return the indices of two numbers that add up to the target.",
		FunctionSignature: "def two_sum(nums, target):\n    # your code here\n    return",
		Difficulty:        "Easy",
		TestCases: []protocol.TestCase{
			{Input: "[2, 7, 11, 15], 9", Output: "[0, 1]"},
			{Input: "[3, 2, 4], 6", Output: "[1, 2]"},
		},
	},
	{
		Name:              "Reverse Words",
		Description:       "Reverse the order of words in a sentence while keeping the words themselves intact.",
		FunctionSignature: "def reverse_words(s):\n    # your code here\n    return",
		Difficulty:        "Easy",
		TestCases: []protocol.TestCase{
			{Input: "\"the sky is blue\"", Output: "\"blue is sky the\""},
		},
	},
	{
		Name:              "Longest Substring Without Repeating Characters",
		Description:       "Return the length of the longest substring without repeating characters.",
		FunctionSignature: "def length_of_longest_substring(s):\n    # your code here\n    return",
		Difficulty:        "Medium",
		TestCases: []protocol.TestCase{
			{Input: "\"abcabcbb\"", Output: "3"},
			{Input: "\"bbbbb\"", Output: "1"},
		},
	},
	{
		Name:              "Trapping Rain Water",
		Description:       "Given an elevation map, compute how much water it can trap after raining.",
		FunctionSignature: "def trap(height):\n    # your code here\n    return",
		Difficulty:        "Hard",
		TestCases: []protocol.TestCase{
			{Input: "[0,1,0,2,1,0,1,3,2,1,2,1]", Output: "6"},
		},
	},
}

// randomProblem picks a problem matching the difficulty selection, falling
// back to the whole bank when nothing matches.
func randomProblem(easy, medium, hard bool) protocol.Problem {
	var pool []protocol.Problem
	for _, p := range builtinProblems {
		switch p.Difficulty {
		case "Easy":
			if easy {
				pool = append(pool, p)
			}
		case "Medium":
			if medium {
				pool = append(pool, p)
			}
		case "Hard":
			if hard {
				pool = append(pool, p)
			}
		}
	}
	if len(pool) == 0 {
		pool = builtinProblems
	}
	return pool[rand.Intn(len(pool))]
}
